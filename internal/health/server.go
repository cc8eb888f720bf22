package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tenderflow/docpipe/internal/pipeline"
)

// NewRouter serves the health and metrics surface. This is intentionally
// not the tenant-facing API; that lives in a separate service.
func NewRouter(monitor *Monitor, registry *Registry, producer *pipeline.Producer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		snapshot := monitor.Check(req.Context())
		status := http.StatusOK
		if snapshot.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, snapshot, logger)
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		// Refresh queue gauges on every scrape.
		monitor.Check(req.Context())
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(registry.RenderPrometheus()))
	})

	r.Get("/queues", func(w http.ResponseWriter, req *http.Request) {
		snapshot := monitor.Check(req.Context())
		writeJSON(w, http.StatusOK, snapshot.Queues, logger)
	})

	r.Get("/jobs/{queue}/{jobID}", func(w http.ResponseWriter, req *http.Request) {
		status, err := producer.GetJobStatus(req.Context(), chi.URLParam(req, "queue"), chi.URLParam(req, "jobID"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, logger)
			return
		}
		writeJSON(w, http.StatusOK, status, logger)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
