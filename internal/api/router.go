package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/lookup", s.handleGetDevice)
		})
		r.Get("/classes", s.handleListClasses)

		r.Route("/errors", func(r chi.Router) {
			r.Get("/", s.handleGetErrors)
			r.Delete("/", s.handleClearErrors)
		})

		r.Post("/refresh", s.handleRefresh)
		r.Post("/inject", s.handleInject)

		if s.store != nil {
			r.Route("/specs", func(r chi.Router) {
				r.Get("/", s.handleListSpecs)
				r.Put("/{name}", s.handlePutSpec)
				r.Delete("/{name}", s.handleDeleteSpec)
			})
		}
	})

	return r
}

// handleHealth reports liveness and the installed generation.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"generation": s.cache.Generation(),
		"sources":    s.cache.Sources(),
		"store":      s.store != nil,
	})
}
