// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	// AppPort falls back to PORT when unset.
	AppPort int `env:"APP_PORT"`
	Port    int `env:"PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`
	// DBUser and DBPassword override the credentials embedded in DATABASE_URL.
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBPoolMin  int32  `env:"DB_POOL_MIN" envDefault:"4"`
	DBPoolMax  int32  `env:"DB_POOL_MAX" envDefault:"10"`

	// Cache (Redis). Empty disables the user cache.
	RedisURL     string        `env:"REDIS_URL"`
	UserCacheTTL time.Duration `env:"USER_CACHE_TTL" envDefault:"5m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// CacheEnabled reports whether a Redis URL was configured.
func (c *Config) CacheEnabled() bool {
	return c.RedisURL != ""
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPoolMax <= 0 {
		errs = append(errs, fmt.Errorf("DB_POOL_MAX must be positive, got %d", c.DBPoolMax))
	}
	if c.DBPoolMin < 0 {
		errs = append(errs, fmt.Errorf("DB_POOL_MIN must not be negative, got %d", c.DBPoolMin))
	}
	if c.DBPoolMin > c.DBPoolMax {
		errs = append(errs, fmt.Errorf("DB_POOL_MIN (%d) exceeds DB_POOL_MAX (%d)", c.DBPoolMin, c.DBPoolMax))
	}
	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.AppPort))
	}
	if c.MaxRequestBodySize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_REQUEST_BODY_SIZE must be positive, got %d", c.MaxRequestBodySize))
	}
	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.AppPort == 0 {
		cfg.AppPort = cfg.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
