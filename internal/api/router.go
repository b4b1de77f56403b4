// Package api provides the HTTP API for trackrec.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/trackrec/trackrec/internal/api/handler"
	"github.com/trackrec/trackrec/internal/api/middleware"
	"github.com/trackrec/trackrec/internal/location"
	"github.com/trackrec/trackrec/internal/provider/resilience"
	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/storage"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	ServiceName string
	Logger      zerolog.Logger
	Metrics     *middleware.Metrics

	Manager *session.Manager
	Archive *storage.Archive

	// Push accepts fixes over HTTP; nil disables POST /v1/session/fixes.
	Push *location.PushProvider

	// Tokens authenticates fix pushes; nil leaves them open.
	Tokens middleware.TokenValidator

	// Stream serves GET /v1/stream; nil disables it.
	Stream http.Handler

	Registry   *resilience.Registry
	Checks     []handler.Check
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "trackrec"
	}

	// Global middleware, order matters.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Checks...)
	sessionHandler := handler.NewSessionHandler(cfg.Manager, cfg.Push, cfg.Logger)
	routeHandler := handler.NewRouteHandler(cfg.Manager, cfg.Archive, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)
	exportRateLimit := middleware.RateLimitByIP(middleware.ExportRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(standardRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/session", func(r chi.Router) {
			r.With(standardRateLimit).Group(func(r chi.Router) {
				r.Get("/", sessionHandler.GetSession)
				r.Post("/start", sessionHandler.Start)
				r.Post("/stop", sessionHandler.Stop)
				r.Post("/clear", sessionHandler.Clear)
			})

			r.Group(func(r chi.Router) {
				if cfg.Tokens != nil {
					r.Use(middleware.Auth(cfg.Tokens))
				}
				r.Use(middleware.RateLimitByDevice(middleware.IngestRateLimit))
				r.Use(middleware.RequireJSON)
				r.Post("/fixes", sessionHandler.PushFix)
			})
		})

		r.Route("/route", func(r chi.Router) {
			r.With(standardRateLimit).Group(func(r chi.Router) {
				r.Get("/", routeHandler.GetRoute)
				r.Get("/polyline", routeHandler.Polyline)
				r.Get("/series", routeHandler.Series)
				r.Post("/points/{segment}/{index}/enrichment", routeHandler.EnrichPoint)
			})

			r.With(exportRateLimit).Group(func(r chi.Router) {
				r.Get("/export", routeHandler.Export)
				r.With(middleware.RequireJSON).Post("/import", routeHandler.Import)
				r.Post("/save", routeHandler.Save)
				r.Post("/load", routeHandler.Load)
			})
		})

		if cfg.Stream != nil {
			r.Get("/stream", cfg.Stream.ServeHTTP)
		}
	})

	return r
}
