package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter serves probes, metrics, call inspection and, when media is
// non-nil, the bridge websocket at /media.
func NewRouter(h *Handlers, media http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", h.HandleReady)
	mux.HandleFunc("/health/deps", h.HandleDeps)
	mux.Handle("/metrics", promhttp.Handler())
	if media != nil {
		mux.Handle("/media", media)
	}

	mux.HandleFunc("/calls/", func(w http.ResponseWriter, r *http.Request) {
		// /calls/{id} | /calls/{id}/events
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/calls/")
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}

		switch tail {
		case "":
			h.HandleGetCall(w, r, id)
		case "events":
			h.HandleListEvents(w, r, id)
		default:
			http.NotFound(w, r)
		}
	})

	return mux
}
