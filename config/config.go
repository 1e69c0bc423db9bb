// config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is built once at startup and handed to every component constructor.
type Config struct {
	Port           int    `env:"PORT" envDefault:"5300"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	JWTSecret      string `env:"JWT_SECRET"`
	ServiceToken   string `env:"SERVICE_TOKEN"`

	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`

	Ledger    LedgerConfig
	Reconcile ReconcileConfig
	R2        R2Config

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// LedgerConfig points at the external token-ledger service.
type LedgerConfig struct {
	URL         string        `env:"LEDGER_URL" envDefault:"http://localhost:5000"`
	Timeout     time.Duration `env:"LEDGER_TIMEOUT" envDefault:"10s"`
	RPS         float64       `env:"LEDGER_RPS" envDefault:"20"`
	ReadRetries int           `env:"LEDGER_READ_RETRIES" envDefault:"1"`
}

// ReconcileConfig tunes the pending-intent sweep.
type ReconcileConfig struct {
	Interval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	StaleAfter  time.Duration `env:"RECONCILE_STALE_AFTER" envDefault:"5m"`
	MaxAttempts int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"8"`
	BatchSize   int           `env:"RECONCILE_BATCH_SIZE" envDefault:"50"`
}

// R2Config holds Cloudflare R2 credentials for the claim audit export.
// The export is disabled when any field is empty.
type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
}

// Enabled reports whether every R2 setting is present.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	if c.Ledger.Timeout <= 0 {
		errs = append(errs, errors.New("LEDGER_TIMEOUT must be positive"))
	}
	if c.Reconcile.MaxAttempts < 1 {
		errs = append(errs, errors.New("RECONCILE_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}
