package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-b2b/atelier/internal/auth"
	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/observability"
	"github.com/atelier-b2b/atelier/internal/platform/httpx"
	"github.com/atelier-b2b/atelier/internal/rbac"
	"github.com/atelier-b2b/atelier/internal/sales"
	"github.com/atelier-b2b/atelier/internal/users"
	"github.com/atelier-b2b/atelier/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Verifier *auth.Verifier
	Pool     *pgxpool.Pool

	SalesHandler         *sales.Handler
	UsersHandler         *users.Handler
	NotificationsHandler *notifications.Handler
	PermissionsHandler   *rbac.PermissionsHandler
	JobHandler           *jobs.Handler
	RBACMiddleware       rbac.Middleware
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Pool, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(params.Verifier, params.Logger))

		if params.SalesHandler != nil {
			params.SalesHandler.MountRoutes(r)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.NotificationsHandler != nil {
			r.Route("/notifications", params.NotificationsHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(rbac.PermSweepRun))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}

// readiness pings the database with a short deadline.
func readiness(pool *pgxpool.Pool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("readiness ping", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "database unavailable", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
