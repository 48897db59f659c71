package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// Registration is public; everything else under /users is not.
		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.handleCreateUser)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.With(s.requireAdmin).Get("/", s.handleListUsers)
				r.With(s.requireAdmin).Get("/by-slot/{slot}", s.handleGetUserBySlot)

				r.Route("/{id}", func(r chi.Router) {
					r.Use(s.requireSelfOrAdmin)
					r.Get("/", s.handleGetUser)
					r.Put("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
				})
			})
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/commands", func(r chi.Router) {
				r.Post("/send", s.handleSendCommand)
				r.Post("/enroll", s.handleEnroll)
				r.Delete("/slots/{slot}", s.handleDeleteSlot)
				r.Post("/emergency-lock", s.handleEmergencyLock)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Get("/devices", s.handleListDevices)
				r.Post("/devices", s.handleRegisterDevice)

				r.Get("/slots", s.handleListSlots)
				r.Post("/slots/reconcile", s.handleReconcile)

				r.Get("/audit", s.handleListAuditLogs)
				r.Get("/metrics", s.handleMetrics)
			})
		})
	})

	return r
}

// handleHealth returns the server health status. Any failing dependency
// turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.healthChecks))
	for name := range s.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	checks := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.healthChecks[name](ctx)
		cancel()
		if err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
