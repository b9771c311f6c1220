package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// withSources fills the required source endpoints so validation can focus
// on the field under test.
func withSources(cfg *Config) *Config {
	cfg.Sources.BenefitBaseURL = "http://localhost:9090/api"
	cfg.Sources.AccumulatorBaseURL = "http://localhost:9091/api"
	cfg.Sources.TokenURL = "http://localhost:9092/token"
	cfg.Sources.ClientID = "carecost"
	cfg.Sources.ClientSecret = "secret"
	return cfg
}

func TestDefaultConfig_ReturnsExpectedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listen.Port != 8080 {
		t.Errorf("Listen.Port = %d, want %d", cfg.Listen.Port, 8080)
	}
	if cfg.Sources.Timeout != 2*time.Second {
		t.Errorf("Sources.Timeout = %v, want %v", cfg.Sources.Timeout, 2*time.Second)
	}
	if cfg.Sources.RetryBaseDelay != 1*time.Second {
		t.Errorf("Sources.RetryBaseDelay = %v, want %v", cfg.Sources.RetryBaseDelay, 1*time.Second)
	}
	if cfg.Sources.MaxRetries != 3 {
		t.Errorf("Sources.MaxRetries = %d, want %d", cfg.Sources.MaxRetries, 3)
	}
	if cfg.Estimator.ProviderWorkers != 12 {
		t.Errorf("Estimator.ProviderWorkers = %d, want %d", cfg.Estimator.ProviderWorkers, 12)
	}
	if cfg.Estimator.RequestTimeout != 5*time.Second {
		t.Errorf("Estimator.RequestTimeout = %v, want %v", cfg.Estimator.RequestTimeout, 5*time.Second)
	}
	if cfg.Caches.PCPRefresh != 24*time.Hour {
		t.Errorf("Caches.PCPRefresh = %v, want %v", cfg.Caches.PCPRefresh, 24*time.Hour)
	}
	if cfg.Caches.TokenTTL != 59*time.Minute {
		t.Errorf("Caches.TokenTTL = %v, want %v", cfg.Caches.TokenTTL, 59*time.Minute)
	}
	if cfg.Database.RetentionDays != 90 {
		t.Errorf("Database.RetentionDays = %d, want %d", cfg.Database.RetentionDays, 90)
	}
}

func TestDefaultConfig_Validate_ReturnsNil(t *testing.T) {
	cfg := withSources(DefaultConfig())

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if err := cfg.ValidateDetailed(); err != nil {
		t.Fatalf("ValidateDetailed() returned error: %v", err)
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yamlContent := []byte(`listen:
  port: 9999
sources:
  benefitBaseURL: http://benefits.internal/api
  accumulatorBaseURL: http://accums.internal/api
  tokenURL: http://auth.internal/token
  clientID: carecost
  clientSecret: s3cret
estimator:
  providerWorkers: 4
`)
	if err := os.WriteFile(path, yamlContent, 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile(%q) returned error: %v", path, err)
	}

	if cfg.Listen.Port != 9999 {
		t.Errorf("Listen.Port = %d, want %d", cfg.Listen.Port, 9999)
	}
	if cfg.Sources.BenefitBaseURL != "http://benefits.internal/api" {
		t.Errorf("Sources.BenefitBaseURL = %q, want %q", cfg.Sources.BenefitBaseURL, "http://benefits.internal/api")
	}
	if cfg.Estimator.ProviderWorkers != 4 {
		t.Errorf("Estimator.ProviderWorkers = %d, want %d", cfg.Estimator.ProviderWorkers, 4)
	}
}

func TestLoadFromFile_MergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.yaml")

	// Only set a few fields; the rest should come from defaults.
	yamlContent := []byte(`sources:
  benefitBaseURL: http://benefits.internal/api
database:
  path: /tmp/carecost-test.db
`)
	if err := os.WriteFile(path, yamlContent, 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile(%q) returned error: %v", path, err)
	}

	// Explicitly set fields
	if cfg.Sources.BenefitBaseURL != "http://benefits.internal/api" {
		t.Errorf("Sources.BenefitBaseURL = %q, want %q", cfg.Sources.BenefitBaseURL, "http://benefits.internal/api")
	}
	if cfg.Database.Path != "/tmp/carecost-test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/carecost-test.db")
	}

	// Default fields should still be present
	if cfg.Listen.Port != 8080 {
		t.Errorf("Listen.Port = %d, want default %d", cfg.Listen.Port, 8080)
	}
	if cfg.Sources.Timeout != 2*time.Second {
		t.Errorf("Sources.Timeout = %v, want default %v", cfg.Sources.Timeout, 2*time.Second)
	}
	if cfg.Estimator.ProviderWorkers != 12 {
		t.Errorf("Estimator.ProviderWorkers = %d, want default %d", cfg.Estimator.ProviderWorkers, 12)
	}
	if cfg.Caches.PaymentMethodRefresh != 24*time.Hour {
		t.Errorf("Caches.PaymentMethodRefresh = %v, want default %v", cfg.Caches.PaymentMethodRefresh, 24*time.Hour)
	}
}

func TestLoadFromFile_InvalidPath(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("LoadFromFile with invalid path expected error, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")

	badContent := []byte(`sources: [invalid
  yaml: {{broken
`)
	if err := os.WriteFile(path, badContent, 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("LoadFromFile with invalid YAML expected error, got nil")
	}
}

func TestClientSecret_EnvOverride(t *testing.T) {
	t.Setenv("CARECOST_CLIENT_SECRET", "from-env")

	cfg := DefaultConfig()
	if cfg.Sources.ClientSecret != "from-env" {
		t.Errorf("Sources.ClientSecret = %q, want %q", cfg.Sources.ClientSecret, "from-env")
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		mutate func(*Config)
	}{
		{"missing benefitBaseURL", func(c *Config) { c.Sources.BenefitBaseURL = "" }},
		{"missing accumulatorBaseURL", func(c *Config) { c.Sources.AccumulatorBaseURL = "" }},
		{"missing tokenURL", func(c *Config) { c.Sources.TokenURL = "" }},
		{"missing clientID", func(c *Config) { c.Sources.ClientID = "" }},
		{"missing clientSecret", func(c *Config) { c.Sources.ClientSecret = "" }},
		{"missing database path", func(c *Config) { c.Database.Path = "" }},
		{"zero providerWorkers", func(c *Config) { c.Estimator.ProviderWorkers = 0 }},
		{"invalid port", func(c *Config) { c.Listen.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := withSources(DefaultConfig())
			tt.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}
}

func TestValidateDetailed_CrossFieldChecks(t *testing.T) {
	t.Run("source timeout exceeds request timeout", func(t *testing.T) {
		cfg := withSources(DefaultConfig())
		cfg.Sources.Timeout = 10 * time.Second
		cfg.Estimator.RequestTimeout = 5 * time.Second

		if err := cfg.ValidateDetailed(); err == nil {
			t.Error("ValidateDetailed() expected error, got nil")
		}
	})

	t.Run("base delay exceeds max delay", func(t *testing.T) {
		cfg := withSources(DefaultConfig())
		cfg.Sources.RetryBaseDelay = 20 * time.Second

		if err := cfg.ValidateDetailed(); err == nil {
			t.Error("ValidateDetailed() expected error, got nil")
		}
	})

	t.Run("breaker threshold out of range", func(t *testing.T) {
		cfg := withSources(DefaultConfig())
		cfg.Breaker.ErrorThreshold = 1.5

		if err := cfg.ValidateDetailed(); err == nil {
			t.Error("ValidateDetailed() expected error, got nil")
		}
	})
}

func TestCollectErrors_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources.ClientSecret = "" // ensure no env leakage matters
	cfg.Listen.Port = 0
	cfg.Estimator.ProviderWorkers = 0

	ve := CollectErrors(cfg)
	if ve == nil {
		t.Fatal("CollectErrors() = nil, want errors")
	}
	if len(ve.Errors) < 3 {
		t.Errorf("CollectErrors() found %d problems, want >= 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestCollectErrors_ValidConfig(t *testing.T) {
	cfg := withSources(DefaultConfig())
	if ve := CollectErrors(cfg); ve != nil {
		t.Errorf("CollectErrors() = %v, want nil", ve)
	}
}
