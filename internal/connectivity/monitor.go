// Package connectivity tracks backend reachability and signals reconnects.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "kinexsync",
	Subsystem: "connectivity",
	Name:      "up",
	Help:      "1 when the backend is reachable, 0 otherwise.",
})

func init() {
	prometheus.MustRegister(connectedGauge)
	connectedGauge.Set(1)
}

// Checker reports whether the backend is currently reachable.
type Checker interface {
	Reachable(ctx context.Context) bool
}

// Option configures optional behaviour for the Monitor.
type Option func(*Monitor)

// WithLogger overrides the logger used to report transitions.
func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor holds the last observed reachability and fires reconnect callbacks on every
// unavailable to available transition. It starts out connected.
type Monitor struct {
	checker   Checker
	interval time.Duration
	logger   *log.Logger

	mu          sync.Mutex
	connected   bool
	onReconnect []func()
	done        chan struct{}
}

// DefaultInterval is used when NewMonitor gets a non-positive interval.
const DefaultInterval = 10 * time.Second

// NewMonitor constructs a Monitor polling checker every interval when Run is used.
func NewMonitor(checker Checker, interval time.Duration, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		checker:    checker,
		interval:  interval,
		logger:    log.New(log.Writer(), "[connectivity] ", log.LstdFlags|log.Lshortfile),
		connected: true,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnReconnect registers fn to run when connectivity is restored.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// Connected returns the last observed state.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Update applies an observation and reports whether it was a reconnect.
func (m *Monitor) Update(connected bool) bool {
	m.mu.Lock()
	was := m.connected
	m.connected = connected
	var callbacks []func()
	if connected && !was {
		callbacks = append(callbacks, m.onReconnect...)
	}
	m.mu.Unlock()

	if connected {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
	if was != connected {
		m.logger.Printf("backend reachable: %t", connected)
	}
	for _, fn := range callbacks {
		fn()
	}
	return connected && !was
}

// Check asks the checker once and applies the result.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.checker == nil {
		return m.Connected()
	}
	connected := m.checker.Reachable(ctx)
	if ctx.Err() != nil {
		return m.Connected()
	}
	m.Update(connected)
	return connected
}

// Run checks on every tick until ctx is cancelled. It should be called in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()

	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Run returns.
func (m *Monitor) Wait() {
	<-m.done
}
