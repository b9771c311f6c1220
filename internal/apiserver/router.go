// Package apiserver exposes the HTTP surface: the estimate endpoint, health
// and metrics, config inspection, and the audit trail.
package apiserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carecost/carecost/internal/apiserver/handler"
	"github.com/carecost/carecost/internal/config"
	"github.com/carecost/carecost/internal/estimator"
	"github.com/carecost/carecost/internal/store"
)

// NewRouter creates the API router with all endpoints.
func NewRouter(cfg *config.Config, orch *estimator.Orchestrator, db *store.DB) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	estimateHandler := handler.NewEstimateHandler(orch, cfg.Estimator.RequestTimeout)
	configHandler := handler.NewConfigHandler(cfg)
	auditHandler := handler.NewAuditHandler(db)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/estimate", estimateHandler.Post)
		r.Get("/config", configHandler.Get)
		r.Get("/audit/{membershipId}", auditHandler.List)
	})

	return r
}
