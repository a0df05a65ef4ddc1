package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-pcg-core/internal/config"
	"go-pcg-core/internal/handler"
	"go-pcg-core/internal/middleware"
	"go-pcg-core/internal/model"
	"go-pcg-core/internal/ratelimit"
	"go-pcg-core/internal/util"
)

const authPrefix = "/api/v1/auth"

type Handlers struct {
	Auth   *handler.AuthHandler
	Jobs   *handler.JobsHandler
	Audit  *handler.AuditHandler
	Users  *handler.UserHandler
	Health *handler.HealthHandler
	Docs   *handler.DocsHandler
	Events http.Handler
}

// New builds the HTTP surface. API requests pass the boundary checks in order
// (origin, rate limit, CSRF, sanitization) before any authentication runs.
func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.Limiter, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, authPrefix, cfg.AuthRateLimitRPM)
	sanitizer := util.NewMarkupSanitizer("password", "new_password", "token", "refresh_token")

	r.Use(middleware.Recovery)
	r.Use(middleware.RealIP(cfg.TrustedProxyPrefixes()))
	r.Use(middleware.Logging)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", h.Docs.OpenAPI)
	r.Get("/swagger", h.Docs.SwaggerUI)

	requireAdmin := authMiddleware.RequireRoles(model.RoleAdmin)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.OriginGuard(cfg.AllowedOrigins))
		api.Use(rateLimitMiddleware.Handler)
		api.Use(middleware.CSRF(cfg.CSRFEnabled))
		api.Use(middleware.Sanitize(sanitizer))

		// Long-lived; http.TimeoutHandler cannot be hijacked.
		api.With(authMiddleware.RequireAuth).Get("/jobs/events", h.Events.ServeHTTP)

		api.Group(func(timed chi.Router) {
			timed.Use(middleware.Timeout(cfg.RequestTimeout))

			timed.Route("/auth", func(auth chi.Router) {
				auth.Get("/csrf", h.Auth.CSRFToken)
				auth.Post("/login", h.Auth.Login)
				auth.Post("/refresh", h.Auth.Refresh)
				auth.Post("/recuperar-contraseña", h.Auth.RequestReset)
				auth.Post("/resetear-contraseña", h.Auth.CompleteReset)
				auth.With(authMiddleware.RequireAuth).Post("/logout", h.Auth.Logout)
				auth.With(authMiddleware.RequireAuth).Get("/me", h.Auth.Me)
			})

			timed.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)

				protected.Post("/jobs", h.Jobs.Create)
				protected.Get("/jobs", h.Jobs.List)
				protected.Get("/jobs/{job_id}", h.Jobs.Get)
				protected.Post("/jobs/{job_id}/regenerate", h.Jobs.Regenerate)

				protected.With(requireAdmin).Get("/audit", h.Audit.List)
				protected.With(requireAdmin).Get("/admin/ping", handler.AdminPing)
				protected.With(requireAdmin).Post("/admin/users", h.Users.Create)
				protected.With(requireAdmin).Get("/admin/users/{id}", h.Users.Get)
				protected.With(requireAdmin).Put("/admin/users/{id}/status", h.Users.UpdateStatus)
			})
		})
	})

	return r
}
