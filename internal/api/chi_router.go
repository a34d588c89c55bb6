// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tomtom215/tradeaudit/internal/auth"
	"github.com/tomtom215/tradeaudit/internal/authz"
	"github.com/tomtom215/tradeaudit/internal/middleware"
)

// slowRequestThreshold marks requests logged at warn level.
const slowRequestThreshold = 2 * time.Second

// Router assembles the HTTP surface.
type Router struct {
	handler         *Handler
	authMiddleware  *auth.Middleware
	authzMiddleware *authz.Middleware
	chiMiddleware   *ChiMiddleware
}

// NewRouter wires handler behind token authentication and policy checks.
func NewRouter(handler *Handler, jwtManager *auth.JWTManager, mw *ChiMiddlewareConfig) *Router {
	return &Router{
		handler:         handler,
		authMiddleware:  auth.NewMiddleware(jwtManager, writeAuthError),
		authzMiddleware: authz.NewMiddleware(handler.enforcer, writeDenied),
		chiMiddleware:   NewChiMiddleware(mw),
	}
}

// SetupChi builds the chi handler tree.
func (router *Router) SetupChi() http.Handler {
	h := router.handler
	require := router.authzMiddleware.RequirePermission

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(slowRequestThreshold))
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Health)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(router.authMiddleware.Authenticate)

			r.Route("/audit", func(r chi.Router) {
				r.With(require(authz.ObjectAuditLogs, authz.ActionRead)).Get("/logs", h.SearchAuditLogs)
				r.Get("/users/{userId}/logs", h.UserAuditLogs)
				r.With(require(authz.ObjectAuditLogs, authz.ActionRead)).
					Get("/entities/{entityType}/{entityId}/logs", h.EntityAuditLogs)
				r.With(require(authz.ObjectAuditVerify, authz.ActionExecute)).Post("/verify-integrity", h.VerifyIntegrity)
				r.With(require(authz.ObjectAuditStats, authz.ActionRead)).Get("/stats", h.AuditStats)
				r.With(require(authz.ObjectAuditArchive, authz.ActionExecute)).Post("/archive", h.ArchiveLogs)
				r.With(require(authz.ObjectAuditCritical, authz.ActionRead)).Get("/critical", h.ListCriticalEntries)
				r.With(require(authz.ObjectAuditCritical, authz.ActionRead)).Get("/critical/{id}", h.GetCriticalEntry)

				r.Route("/reports", func(r chi.Router) {
					r.Use(require(authz.ObjectAuditReports, authz.ActionRead))
					r.Get("/types", h.ReportTypes)
					r.Post("/generate", h.GenerateReport)
				})
			})
		})

		r.Route("/telemetry", func(r chi.Router) {
			r.With(
				router.chiMiddleware.TrackRateLimit(),
				router.authMiddleware.OptionalAuthenticate,
			).Post("/track", h.Track)

			r.Group(func(r chi.Router) {
				r.Use(router.chiMiddleware.RateLimit())
				r.Use(router.authMiddleware.Authenticate)
				r.Use(require(authz.ObjectTelemetryAdmin, authz.ActionRead))

				r.Get("/realtime", h.RealtimeMetrics)
				r.Get("/aggregated", h.AggregatedMetrics)
				r.Get("/export", h.ExportTelemetry)
				r.Get("/dead-letters", h.DeadLetters)
				r.Post("/dead-letters/{jobId}/requeue", h.RequeueDeadLetter)
				r.Get("/stream", h.TelemetryStream)
			})
		})
	})

	return r
}
