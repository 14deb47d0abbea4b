package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storekeep-erp/storekeep/internal/inventory"
	"github.com/storekeep-erp/storekeep/internal/procurement"
	"github.com/storekeep-erp/storekeep/internal/requisition"
	"github.com/storekeep-erp/storekeep/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventory.Handler
	ProcurementHandler *procurement.Handler
	RequisitionHandler *requisition.Handler
	JobHandler         *jobs.Handler
	Pool               *pgxpool.Pool
}

// NewRouter constructs the chi.Router serving the JSON API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), params.Config.AppRequestTimeout)
			defer cancel()
			if err := params.Pool.Ping(ctx); err != nil {
				params.Logger.Warn("readiness probe", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
		r.Route("/procurement", params.ProcurementHandler.MountRoutes)
		r.Route("/stores", params.RequisitionHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
