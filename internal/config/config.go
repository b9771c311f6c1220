package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the CareCost estimator.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Sources   SourcesConfig   `yaml:"sources"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Database  DatabaseConfig  `yaml:"database"`
	Caches    CachesConfig    `yaml:"caches"`
	Breaker   BreakerConfig   `yaml:"breaker"`
}

type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// SourcesConfig covers the upstream benefit and accumulator services and
// the OAuth token endpoint they share.
type SourcesConfig struct {
	BenefitBaseURL     string        `yaml:"benefitBaseURL"`
	AccumulatorBaseURL string        `yaml:"accumulatorBaseURL"`
	TokenURL           string        `yaml:"tokenURL"`
	ClientID           string        `yaml:"clientID"`
	ClientSecret       string        `yaml:"clientSecret"` // prefer CARECOST_CLIENT_SECRET env var
	Timeout            time.Duration `yaml:"timeout"`
	RetryBaseDelay     time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay      time.Duration `yaml:"retryMaxDelay"`
	MaxRetries         int           `yaml:"maxRetries"`
}

type EstimatorConfig struct {
	ProviderWorkers int           `yaml:"providerWorkers"` // Tier-2 pool size per request
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retentionDays"`
	AuditQueue    int    `yaml:"auditQueue"` // async writer buffer size
}

type CachesConfig struct {
	PCPRefresh           time.Duration `yaml:"pcpRefresh"`
	PaymentMethodRefresh time.Duration `yaml:"paymentMethodRefresh"`
	TokenTTL             time.Duration `yaml:"tokenTTL"`
}

type BreakerConfig struct {
	ErrorThreshold float64       `yaml:"errorThreshold"` // 0.0-1.0
	Window         time.Duration `yaml:"window"`
}

// DefaultConfig returns a Config with sensible defaults. Secrets can be
// supplied via environment variables instead of the file.
func DefaultConfig() *Config {
	cfg := &Config{
		Listen: ListenConfig{
			Address: "0.0.0.0",
			Port:    8080,
		},
		Sources: SourcesConfig{
			Timeout:        2 * time.Second,
			RetryBaseDelay: 1 * time.Second,
			RetryMaxDelay:  10 * time.Second,
			MaxRetries:     3,
		},
		Estimator: EstimatorConfig{
			ProviderWorkers: 12,
			RequestTimeout:  5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:          "/data/carecost.db",
			RetentionDays: 90,
			AuditQueue:    4096,
		},
		Caches: CachesConfig{
			PCPRefresh:           24 * time.Hour,
			PaymentMethodRefresh: 24 * time.Hour,
			TokenTTL:             59 * time.Minute,
		},
		Breaker: BreakerConfig{
			ErrorThreshold: 0.5,
			Window:         5 * time.Minute,
		},
	}

	cfg.applyEnvOverrides()
	return cfg
}

// LoadFromFile loads config from a YAML file, overlaying on defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides fills in fields from environment variables. Secrets
// should come from the environment so config files stay checked in.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CARECOST_CLIENT_SECRET"); v != "" {
		c.Sources.ClientSecret = v
	}
	if c.Sources.ClientID == "" {
		if v := os.Getenv("CARECOST_CLIENT_ID"); v != "" {
			c.Sources.ClientID = v
		}
	}
	if c.Database.Path == "" || c.Database.Path == "/data/carecost.db" {
		if v := os.Getenv("CARECOST_DB_PATH"); v != "" {
			c.Database.Path = v
		}
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port %d", c.Listen.Port)
	}

	if c.Sources.BenefitBaseURL == "" {
		return fmt.Errorf("sources.benefitBaseURL is required")
	}
	if c.Sources.AccumulatorBaseURL == "" {
		return fmt.Errorf("sources.accumulatorBaseURL is required")
	}
	if c.Sources.TokenURL == "" {
		return fmt.Errorf("sources.tokenURL is required")
	}
	if c.Sources.ClientID == "" {
		return fmt.Errorf("sources.clientID is required: set in config file or CARECOST_CLIENT_ID env var")
	}
	if c.Sources.ClientSecret == "" {
		return fmt.Errorf("sources.clientSecret is required: set CARECOST_CLIENT_SECRET env var")
	}

	if c.Sources.MaxRetries < 0 || c.Sources.MaxRetries > 10 {
		return fmt.Errorf("sources.maxRetries must be in 0..10, got %d", c.Sources.MaxRetries)
	}
	if c.Estimator.ProviderWorkers < 1 {
		return fmt.Errorf("estimator.providerWorkers must be >= 1, got %d", c.Estimator.ProviderWorkers)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// ValidateDetailed performs extended validation beyond basic Validate().
// This checks cross-field constraints that are important for safety.
func (c *Config) ValidateDetailed() error {
	if err := c.Validate(); err != nil {
		return err
	}

	// Every source call must be able to finish inside the request deadline.
	if c.Sources.Timeout >= c.Estimator.RequestTimeout {
		return fmt.Errorf("sources.timeout (%s) must be shorter than estimator.requestTimeout (%s)",
			c.Sources.Timeout, c.Estimator.RequestTimeout)
	}

	if c.Sources.RetryBaseDelay > c.Sources.RetryMaxDelay {
		return fmt.Errorf("sources.retryBaseDelay (%s) must not exceed retryMaxDelay (%s)",
			c.Sources.RetryBaseDelay, c.Sources.RetryMaxDelay)
	}

	if c.Breaker.ErrorThreshold <= 0 || c.Breaker.ErrorThreshold > 1 {
		return fmt.Errorf("breaker.errorThreshold must be in (0, 1], got %.2f", c.Breaker.ErrorThreshold)
	}

	if c.Caches.TokenTTL < time.Minute {
		return fmt.Errorf("caches.tokenTTL must be at least 1m, got %s", c.Caches.TokenTTL)
	}

	return nil
}
