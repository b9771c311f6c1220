package apiserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/carecost/carecost/internal/config"
	"github.com/carecost/carecost/internal/estimator"
	"github.com/carecost/carecost/internal/store"
)

// NewServer creates a new HTTP server for the REST API.
func NewServer(cfg *config.Config, orch *estimator.Orchestrator, db *store.DB) *http.Server {
	router := NewRouter(cfg, orch, db)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
