// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"` // empty selects the in-memory store
	RedisURL    string `env:"REDIS_URL"`

	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	JWTSecret string     `env:"JWT_SECRET,required,notEmpty"`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	// EnableDebugTools mounts the fault-injection endpoints.
	EnableDebugTools bool `env:"ENABLE_DEBUG_TOOLS" envDefault:"false"`
	RunMigrations    bool `env:"RUN_MIGRATIONS" envDefault:"true"`

	// CORSOrigin is echoed in Access-Control-Allow-Origin.
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"*"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("CACHE_TTL must be positive, got %s", cfg.CacheTTL)
	}
	return &cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string { return ":" + c.Port }
