// Package api exposes the local admin and status endpoints of the sync agent.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"example.com/kinexsync/internal/auth"
	"example.com/kinexsync/internal/domain"
	"example.com/kinexsync/internal/syncengine"
)

// SyncEngine is the subset of the engine the handlers drive.
type SyncEngine interface {
	Snapshot() syncengine.Snapshot
	Items(ctx context.Context) ([]domain.QueueItem, error)
	ProcessQueue() bool
	RetryFailed(ctx context.Context) (int, error)
	ClearFailed(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) (int, error)
}

// Connectivity reports and accepts reachability changes.
type Connectivity interface {
	Connected() bool
	Update(connected bool) bool
}

// Handler coordinates HTTP requests with the sync engine.
type Handler struct {
	engine      SyncEngine
	network     Connectivity
	requireAuth bool
}

// NewHandler builds a Handler. When requireAuth is set every /v1 route checks scopes on
// claims placed in the context by auth.Middleware.
func NewHandler(engine SyncEngine, network Connectivity, requireAuth bool) *Handler {
	return &Handler{engine: engine, network: network, requireAuth: requireAuth}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/v1/sync/status", h.status)
	mux.HandleFunc("/v1/sync/items", h.items)
	mux.HandleFunc("/v1/sync/process", h.process)
	mux.HandleFunc("/v1/sync/retry-failed", h.retryFailed)
	mux.HandleFunc("/v1/sync/clear-failed", h.clearFailed)
	mux.HandleFunc("/v1/sync/clear-all", h.clearAll)
	mux.HandleFunc("/v1/sync/connectivity", h.connectivity)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !h.authorize(w, r, auth.ScopeRead) {
		return
	}
	writeJSON(w, http.StatusOK, h.statusView())
}

func (h *Handler) items(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !h.authorize(w, r, auth.ScopeRead) {
		return
	}

	items, err := h.engine.Items(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := ListItemsResponse{Items: make([]QueueItemView, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toQueueItemView(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !h.authorize(w, r, auth.ScopeAdmin) {
		return
	}
	started := h.engine.ProcessQueue()
	writeJSON(w, http.StatusAccepted, ProcessResponse{Started: started, Status: h.statusView()})
}

func (h *Handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !h.authorize(w, r, auth.ScopeAdmin) {
		return
	}
	n, err := h.engine.RetryFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h *Handler) clearFailed(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !h.authorize(w, r, auth.ScopeAdmin) {
		return
	}
	n, err := h.engine.ClearFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// clearAll drops every queued mutation, e.g. when the user signs out.
func (h *Handler) clearAll(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !h.authorize(w, r, auth.ScopeAdmin) {
		return
	}
	n, err := h.engine.ClearAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h *Handler) connectivity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !h.authorize(w, r, auth.ScopeRead) {
			return
		}
		writeJSON(w, http.StatusOK, ConnectivityResponse{Connected: h.network.Connected()})
	case http.MethodPost:
		if !h.authorize(w, r, auth.ScopeAdmin) {
			return
		}
		var req ConnectivityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Connected == nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"connected\": bool}")
			return
		}
		reconnected := h.network.Update(*req.Connected)
		writeJSON(w, http.StatusOK, ConnectivityResponse{Connected: *req.Connected, Reconnected: reconnected})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, scope string) bool {
	if !h.requireAuth {
		return true
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return false
	}
	return true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return false
	}
	return true
}

func (h *Handler) statusView() StatusView {
	snap := h.engine.Snapshot()
	return StatusView{
		State:        string(snap.Status.State),
		Message:      snap.Status.Message,
		PendingCount: snap.PendingCount,
		Connected:    h.network.Connected(),
	}
}

// StatusView is the body of GET /v1/sync/status.
type StatusView struct {
	State        string `json:"state"`
	Message      string `json:"message,omitempty"`
	PendingCount int    `json:"pending_count"`
	Connected    bool   `json:"connected"`
}

// QueueItemView exposes one queued mutation.
type QueueItemView struct {
	ID            string     `json:"id"`
	EntityType    string     `json:"entity_type"`
	Operation     string     `json:"operation"`
	EntityID      string     `json:"entity_id"`
	Payload       string     `json:"payload"`
	CreatedAt     time.Time  `json:"created_at"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Failed        bool       `json:"failed"`
}

// ListItemsResponse packages queue contents in FIFO order.
type ListItemsResponse struct {
	Items []QueueItemView `json:"items"`
}

// ProcessResponse reports whether a new pass was started.
type ProcessResponse struct {
	Started bool       `json:"started"`
	Status  StatusView `json:"status"`
}

// CountResponse reports how many items an admin action touched.
type CountResponse struct {
	Count int `json:"count"`
}

// ConnectivityRequest is the payload for POST /v1/sync/connectivity.
type ConnectivityRequest struct {
	Connected *bool `json:"connected"`
}

// ConnectivityResponse reports reachability and whether the update was a reconnect.
type ConnectivityResponse struct {
	Connected   bool `json:"connected"`
	Reconnected bool `json:"reconnected,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toQueueItemView(item domain.QueueItem) QueueItemView {
	return QueueItemView{
		ID:            item.ID,
		EntityType:    string(item.EntityKind),
		Operation:     string(item.Operation),
		EntityID:      item.EntityID,
		Payload:       string(item.Payload),
		CreatedAt:     item.CreatedAt,
		RetryCount:    item.RetryCount,
		LastError:     item.LastError,
		NextAttemptAt: item.NextAttemptAt,
		Failed:        item.IsFailed(),
	}
}
