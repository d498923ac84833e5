package main

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/userbase/userbase/internal/config"
	"github.com/userbase/userbase/internal/handler"
	"github.com/userbase/userbase/internal/middleware"
)

type routes struct {
	root    *handler.Handler
	health  *handler.HealthHandler
	metrics *handler.MetricsHandler
	users   *handler.UserHandler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(h routes, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Get("/metrics", h.metrics.Metrics)

	r.Get("/api", h.root.APIRoot)
	r.Route("/users", h.users.Routes)
	r.Route("/api/users", h.users.Routes)

	r.NotFound(h.root.NotFound)
	r.MethodNotAllowed(h.root.MethodNotAllowed)

	return r
}
