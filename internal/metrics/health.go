package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc reports the session status document and whether the session can
// still serve requests.
type StatusFunc func() (status any, ready bool)

// HealthServer serves /health, /readiness and /metrics.
type HealthServer struct {
	server  *http.Server
	status  StatusFunc
	started time.Time
}

// NewHealthServer creates a server listening on addr (for example ":8080").
func NewHealthServer(addr string, status StatusFunc) *HealthServer {
	h := &HealthServer{status: status, started: time.Now()}

	h.server = &http.Server{
		Addr:         addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h
}

// Handler returns the routing mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.livenessHandler)
	mux.HandleFunc("/readiness", h.readinessHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe blocks until the server stops. A graceful shutdown returns nil.
func (h *HealthServer) ListenAndServe() error {
	slog.Info("starting health check server",
		"addr", h.server.Addr,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// livenessHandler returns 200 while the process is alive.
func (h *HealthServer) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(h.started).Seconds()),
	})
}

// readinessHandler returns the session status, 503 once the session is released.
func (h *HealthServer) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}

	status, ready := h.status()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: encode response", "error", err)
	}
}
