package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError collects multiple validation errors.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// CollectErrors performs comprehensive config validation, reporting every
// problem at once rather than stopping at the first.
func CollectErrors(cfg *Config) *ValidationError {
	ve := &ValidationError{}

	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		ve.Add("listen.port must be between 1 and 65535")
	}

	if cfg.Sources.BenefitBaseURL == "" {
		ve.Add("sources.benefitBaseURL is required")
	}
	if cfg.Sources.AccumulatorBaseURL == "" {
		ve.Add("sources.accumulatorBaseURL is required")
	}
	if cfg.Sources.TokenURL == "" {
		ve.Add("sources.tokenURL is required")
	}
	if cfg.Sources.ClientID == "" {
		ve.Add("sources.clientID is required")
	}
	if cfg.Sources.ClientSecret == "" {
		ve.Add("sources.clientSecret is required (CARECOST_CLIENT_SECRET)")
	}
	if cfg.Sources.MaxRetries < 0 || cfg.Sources.MaxRetries > 10 {
		ve.Add("sources.maxRetries must be between 0 and 10")
	}
	if cfg.Sources.Timeout >= cfg.Estimator.RequestTimeout {
		ve.Add("sources.timeout must be shorter than estimator.requestTimeout")
	}
	if cfg.Sources.RetryBaseDelay > cfg.Sources.RetryMaxDelay {
		ve.Add("sources.retryBaseDelay must not exceed sources.retryMaxDelay")
	}

	if cfg.Estimator.ProviderWorkers < 1 {
		ve.Add("estimator.providerWorkers must be >= 1")
	}
	if cfg.Estimator.RequestTimeout < 100*time.Millisecond {
		ve.Add("estimator.requestTimeout must be >= 100ms")
	}

	if cfg.Database.Path == "" {
		ve.Add("database.path is required")
	}
	if cfg.Database.RetentionDays < 1 {
		ve.Add("database.retentionDays must be >= 1")
	}

	if cfg.Caches.PCPRefresh < time.Minute {
		ve.Add("caches.pcpRefresh must be >= 1m")
	}
	if cfg.Caches.TokenTTL < time.Minute {
		ve.Add("caches.tokenTTL must be >= 1m")
	}

	if cfg.Breaker.ErrorThreshold <= 0 || cfg.Breaker.ErrorThreshold > 1 {
		ve.Add("breaker.errorThreshold must be in (0, 1]")
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
