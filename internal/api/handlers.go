package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yuzu/callagent/internal/events"
	"yuzu/callagent/internal/health"
	"yuzu/callagent/internal/session"
)

// LiveCalls reports whether a call is handled by this process.
type LiveCalls interface {
	IsLive(callID string) bool
	Active() int
}

type Handlers struct {
	store  session.Store
	events *events.Store
	calls  LiveCalls
	deps   func(ctx context.Context) health.HealthStatus
	ready  *atomic.Bool
	logger *zap.Logger
}

func NewHandlers(st session.Store, ev *events.Store, calls LiveCalls, deps func(context.Context) health.HealthStatus, ready *atomic.Bool, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ready == nil {
		ready = &atomic.Bool{}
		ready.Store(true)
	}
	return &Handlers{store: st, events: ev, calls: calls, deps: deps, ready: ready, logger: logger.With(zap.String("component", "api"))}
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true, "active_calls": h.calls.Active()})
}

func (h *Handlers) HandleDeps(w http.ResponseWriter, r *http.Request) {
	if h.deps == nil {
		http.NotFound(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	st := h.deps(ctx)
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *Handlers) HandleGetCall(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.store.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Warn("session lookup failed", zap.String("call_id", id), zap.Error(err))
		http.Error(w, "session store unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"live":    h.calls.IsLive(id),
	})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if !h.events.Has(id) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"call_id": id, "events": h.events.List(id)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
