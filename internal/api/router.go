package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// healthPath is the liveness endpoint polled by supervisors.
const healthPath = "/api/v1/health"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Plan endpoints
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Post("/", s.handleCreatePlan)
			r.Post("/import", s.handleImportPlan)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPlan)
				r.Put("/", s.handleUpdatePlan)
				r.Delete("/", s.handleDeletePlan)
				r.Get("/export", s.handleExportPlan)
				r.Post("/run", s.handleRunPlan)
				r.Get("/runs", s.handleListPlanRuns)
			})
		})

		// Run history
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
		})

		// Engine control
		r.Get("/engine", s.handleEngineStatus)
		r.Post("/engine/stop", s.handleEngineStop)

		r.Get("/templates", s.handleTemplates)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"engine":  s.engine.State(),
	})
}
