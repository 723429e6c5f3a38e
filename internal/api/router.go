package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{sn}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/snapshot", s.handleGetSnapshot)
				r.Post("/command", s.handleCommand)
			})
		})

		r.Get("/system/health", s.handleHealth)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}
