package handler

import (
	"net/http"

	"github.com/carecost/carecost/internal/config"
)

type ConfigHandler struct {
	config *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{config: cfg}
}

// Get returns the sanitized running config. Secrets are never echoed.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listen": map[string]interface{}{
			"address": h.config.Listen.Address,
			"port":    h.config.Listen.Port,
		},
		"sources": map[string]interface{}{
			"benefitBaseURL":     h.config.Sources.BenefitBaseURL,
			"accumulatorBaseURL": h.config.Sources.AccumulatorBaseURL,
			"tokenURL":           h.config.Sources.TokenURL,
			"timeout":            h.config.Sources.Timeout.String(),
			"maxRetries":         h.config.Sources.MaxRetries,
		},
		"estimator": map[string]interface{}{
			"providerWorkers": h.config.Estimator.ProviderWorkers,
			"requestTimeout":  h.config.Estimator.RequestTimeout.String(),
		},
		"caches": map[string]interface{}{
			"pcpRefresh":           h.config.Caches.PCPRefresh.String(),
			"paymentMethodRefresh": h.config.Caches.PaymentMethodRefresh.String(),
			"tokenTTL":             h.config.Caches.TokenTTL.String(),
		},
	})
}
