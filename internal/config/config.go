// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type StripeConfig struct {
	SecretKey   string        `yaml:"secret_key"`   // overridden by STRIPE_SECRET_KEY
	BaseURL     string        `yaml:"base_url"`     // empty = api.stripe.com
	CallTimeout time.Duration `yaml:"call_timeout"` // per remote call
}

type BillingConfig struct {
	ProductName        string `yaml:"product_name"`
	ProductDescription string `yaml:"product_description"`
	Currency           string `yaml:"currency"`
	Interval           string `yaml:"interval"`           // day|week|month|year
	ProrationBehavior  string `yaml:"proration_behavior"` // create_prorations|none|always_invoice; empty = provider default
	PortalReturnURL    string `yaml:"portal_return_url"`
}

type SagaConfig struct {
	Compensate          bool          `yaml:"compensate"`
	CompensationTimeout time.Duration `yaml:"compensation_timeout"`
	// StaleAfter is how long a run may sit in "running" without progress before it
	// counts as abandoned and becomes eligible for compensation.
	StaleAfter          time.Duration `yaml:"stale_after"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type APIConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // empty disables bearer auth
	RateLimit int    `yaml:"rate_limit"` // mutating requests per client per minute; 0 disables
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"` // empty = in-memory run ledger
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables idempotency lock, replay cache and rate limiting
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SchedulerConfig struct {
	CompensationCron string `yaml:"compensation_cron"`
}

type Config struct {
	Stripe    StripeConfig    `yaml:"stripe"`
	Billing   BillingConfig   `yaml:"billing"`
	Saga      SagaConfig      `yaml:"saga"`
	HTTP      HTTPConfig      `yaml:"http"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (a missing file is fine), applies .env and
// environment overrides, fills defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional; real env vars win over it
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	applyEnv(cfg)
	cfg.normalize()
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{
		Saga: SagaConfig{Compensate: true},
	}
	cfg.normalize()
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.Stripe.SecretKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("API_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
}

func (cfg *Config) normalize() {
	if cfg.Stripe.CallTimeout <= 0 {
		cfg.Stripe.CallTimeout = 15 * time.Second
	}
	if cfg.Billing.ProductName == "" {
		cfg.Billing.ProductName = "Product One"
	}
	if cfg.Billing.ProductDescription == "" {
		cfg.Billing.ProductDescription = "Description of your product"
	}
	cfg.Billing.Currency = strings.ToLower(strings.TrimSpace(cfg.Billing.Currency))
	if cfg.Billing.Currency == "" {
		cfg.Billing.Currency = "usd"
	}
	if cfg.Billing.Interval == "" {
		cfg.Billing.Interval = "month"
	}
	if cfg.Billing.PortalReturnURL == "" {
		cfg.Billing.PortalReturnURL = "http://localhost:3000/account"
	}
	if cfg.Saga.CompensationTimeout <= 0 {
		cfg.Saga.CompensationTimeout = 30 * time.Second
	}
	if cfg.Saga.StaleAfter <= 0 {
		cfg.Saga.StaleAfter = 15 * time.Minute
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 90 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Scheduler.CompensationCron == "" {
		cfg.Scheduler.CompensationCron = "@every 5m"
	}
}

// Validate checks the settings that have no sane default.
func (cfg *Config) Validate() error {
	if cfg.Stripe.SecretKey == "" && !cfg.Runtime.Dev {
		return errors.New("stripe.secret_key (or STRIPE_SECRET_KEY) is required")
	}
	switch cfg.Billing.Interval {
	case "day", "week", "month", "year":
	default:
		return fmt.Errorf("billing.interval %q must be one of day|week|month|year", cfg.Billing.Interval)
	}
	if len(cfg.Billing.Currency) != 3 {
		return fmt.Errorf("billing.currency %q must be a 3-letter ISO code", cfg.Billing.Currency)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 24 * time.Hour
	}
	return d
}
