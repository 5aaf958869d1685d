// Package healthz serves the worker process's liveness and readiness
// endpoints. The readiness check pings the storage pool; liveness only
// reports that the process is up.
package healthz

import (
	"context"
	"net/http"
	"time"

	"github.com/groundline/insar-pipeline/internal/httputil"
	"github.com/groundline/insar-pipeline/internal/version"
)

// Pinger is the subset of *store.Store the readiness check depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves /healthz (always 200, process is up) and /readyz
// (200 only once storage is reachable).
type Handler struct {
	pinger Pinger
}

// New constructs a Handler backed by pinger's connectivity check.
func New(pinger Pinger) *Handler {
	return &Handler{pinger: pinger}
}

// Mux registers the handler's routes on a fresh ServeMux.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleLive)
	mux.HandleFunc("/readyz", h.handleReady)
	return mux
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"service": "insar-pipeline",
		"version": version.Version,
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "storage unreachable: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}
