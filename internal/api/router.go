package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required). Logout is deliberately
		// outside the protected group: an expired token must still be
		// able to end its own session.
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/change-password", s.handleChangePassword)
			r.Post("/auth/revoke-sessions", s.handleRevokeSessions)

			// Topic endpoints
			r.Route("/topics", func(r chi.Router) {
				r.Get("/", s.handleListTopics)
				r.Post("/", s.handleCreateTopic)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTopic)
					r.Delete("/", s.handleDeleteTopic)
					r.Get("/messages", s.handleListMessages)
				})
			})

			// Publish endpoint
			r.Post("/publish", s.handlePublish)
		})
	})

	return r
}

// healthCheckTimeout bounds each dependency probe in the health handler.
const healthCheckTimeout = 3 * time.Second

// handleHealth reports server health, dependency status and the publish
// queue's operating mode.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if s.redis != nil {
		if err := s.redis.HealthCheck(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}
	if s.mqtt != nil {
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			checks["mqtt"] = err.Error()
			healthy = false
		} else {
			checks["mqtt"] = "ok"
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"queue_mode": s.queue.Mode(),
		"checks":     checks,
	})
}
