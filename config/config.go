package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	BackendTables = "tables"
	BackendMemory = "memory"

	minProductionSecret = 16
)

// Config holds every process-wide setting. It is built once by Load and
// handed to the components that need it.
type Config struct {
	Port        int    `env:"PORT" envDefault:"3000"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`

	StoreBackend            string `env:"STORE_BACKEND" envDefault:"tables"`
	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	AccountsTable           string `env:"ACCOUNTS_TABLE" envDefault:"accounts"`
	BoardsTable             string `env:"BOARDS_TABLE" envDefault:"boards"`
	WorkflowsTable          string `env:"WORKFLOWS_TABLE" envDefault:"workflows"`

	CascadeQueue       string        `env:"CASCADE_QUEUE" envDefault:"cascade-intents"`
	CascadeResumeAfter time.Duration `env:"CASCADE_RESUME_AFTER" envDefault:"5m"`

	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING"`
	CacheTTL              time.Duration `env:"CACHE_TTL" envDefault:"1m"`

	JWTSecret    string        `env:"JWT_SECRET"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	CookieTTL    time.Duration `env:"COOKIE_TTL" envDefault:"1h"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"false"`
	BcryptCost   int           `env:"BCRYPT_COST" envDefault:"10"`

	RateLimit  int           `env:"RATE_LIMIT"`
	RateWindow time.Duration `env:"RATE_WINDOW" envDefault:"15m"`

	OtelEndpoint     string  `env:"OTEL_ENDPOINT"`
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" envDefault:"1.0"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		if cfg.Production() {
			cfg.RateLimit = 100
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Production reports whether the process runs with production defaults.
func (c Config) Production() bool {
	return c.Environment == EnvProduction
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("invalid APP_ENV %q", c.Environment))
	}
	switch c.StoreBackend {
	case BackendTables:
		if c.StorageConnectionString == "" {
			errs = append(errs, errors.New("missing STORAGE_CONNECTION_STRING"))
		}
		if c.AccountsTable == "" || c.BoardsTable == "" || c.WorkflowsTable == "" {
			errs = append(errs, errors.New("missing table names"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("missing JWT_SECRET"))
	} else if c.Production() && len(c.JWTSecret) < minProductionSecret {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProductionSecret))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("invalid TOKEN_TTL: must be greater than zero"))
	}
	if c.CookieTTL <= 0 {
		errs = append(errs, errors.New("invalid COOKIE_TTL: must be greater than zero"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("invalid CACHE_TTL"))
	}
	if c.CascadeResumeAfter < time.Second {
		errs = append(errs, errors.New("invalid CASCADE_RESUME_AFTER: must be at least 1s"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("invalid BCRYPT_COST %d", c.BcryptCost))
	}
	if c.RateLimit < 0 || c.RateWindow <= 0 {
		errs = append(errs, errors.New("invalid rate limit settings"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("invalid TRACE_SAMPLE_RATIO"))
	}
	return errors.Join(errs...)
}

// ListenAddr is the address the HTTP server binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
