package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/kinexsync/internal/api"
	"example.com/kinexsync/internal/apiclient"
	"example.com/kinexsync/internal/auth"
	"example.com/kinexsync/internal/config"
	"example.com/kinexsync/internal/connectivity"
	"example.com/kinexsync/internal/domain"
	"example.com/kinexsync/internal/events"
	"example.com/kinexsync/internal/persistence"
	"example.com/kinexsync/internal/syncengine"
	httptransport "example.com/kinexsync/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := persistence.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	defer stores.Close()

	if err := persistence.SeedTokens(ctx, stores.Tokens, domain.Tokens{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken}); err != nil {
		log.Fatalf("failed to seed tokens: %v", err)
	}

	client, err := apiclient.New(cfg.APIBaseURL, stores.Tokens,
		apiclient.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	if err != nil {
		log.Fatalf("invalid API base URL: %v", err)
	}

	engine := syncengine.New(stores.Queue, client, syncengine.WithBaseDelay(cfg.SyncBaseDelay))

	monitor := connectivity.NewMonitor(connectivity.NewHTTPChecker(cfg.ConnectivityCheckURL), cfg.ConnectivityInterval)
	monitor.OnReconnect(func() { engine.ProcessQueue() })
	go monitor.Run(ctx)

	var publisher *events.StatusPublisher
	if len(cfg.KafkaBrokers) > 0 {
		deviceID := cfg.DeviceID
		if deviceID == "" {
			deviceID = uuid.NewString()
		}

		writer := events.NewStatusWriter(cfg.KafkaBrokers, cfg.SyncEventsTopic)
		defer writer.Close()

		var opts []events.PublisherOption
		if cfg.SchemaRegistryURL != "" {
			opts = append(opts, events.WithSchemaRegistry(events.NewSchemaRegistryClient(cfg.SchemaRegistryURL)))
		}
		publisher = events.NewStatusPublisher(writer, cfg.SyncEventsTopic, deviceID, cfg.SyncEventsBuffer, opts...)
		engine.Subscribe(publisher.Observe)
		publisher.Start(ctx)
		log.Printf("publishing sync status for device %s to %s", deviceID, cfg.SyncEventsTopic)
	}

	handler := api.NewHandler(engine, monitor, cfg.AdminJWTSecret != "")
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	root := withAdminAuth(cfg, httptransport.RequestLogger(log.Printf)(mux), log.Printf)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), root)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("sync agent listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	engine.ProcessQueue()

	ticker := time.NewTicker(cfg.SyncPollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-shutdownCh:
			break loop
		case <-ticker.C:
			if monitor.Connected() {
				engine.ProcessQueue()
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	engine.Close()
	cancel()
	monitor.Wait()
	if publisher != nil {
		publisher.Wait()
	}
}

// withAdminAuth guards next with JWT verification when ADMIN_JWT_SECRET is set.
// Without a secret every admin route is open, so it says so at startup.
func withAdminAuth(cfg config.Config, next http.Handler, logf func(string, ...any)) http.Handler {
	if cfg.AdminJWTSecret == "" {
		logf("WARNING: ADMIN_JWT_SECRET not set; admin API accepts unauthenticated requests on %s", cfg.HTTPAddress)
		return next
	}
	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.AdminJWTSecret, Issuer: cfg.AdminJWTIssuer},
		auth.SkipPaths("/healthz", "/metrics"),
	)
	return authMiddleware.Wrap(next)
}
