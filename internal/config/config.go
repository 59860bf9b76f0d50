// Package config loads gwimport settings from GWIMPORT_* environment
// variables. Command-line flags override the loaded values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds connection and storage settings.
type Config struct {
	// PlatformURL is the management platform base URL.
	PlatformURL string `env:"GWIMPORT_PLATFORM_URL"`

	// SourceURL serves the gateway catalog. Empty means PlatformURL, which
	// proxies the gateway for its tenants.
	SourceURL string `env:"GWIMPORT_SOURCE_URL"`

	Token  string `env:"GWIMPORT_TOKEN"`
	Tenant string `env:"GWIMPORT_TENANT"`

	// DBPath is the SQLite checkpoint database.
	DBPath string `env:"GWIMPORT_DB_PATH" envDefault:"gwimport.db"`

	Timeout time.Duration `env:"GWIMPORT_TIMEOUT" envDefault:"30s"`

	// RateLimit caps platform writes per second. Zero disables pacing.
	RateLimit float64 `env:"GWIMPORT_RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"GWIMPORT_RATE_BURST" envDefault:"1"`
}

// Load parses the environment into a Config with defaults applied.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// SourceBaseURL returns SourceURL, or PlatformURL when it is unset.
func (c Config) SourceBaseURL() string {
	if c.SourceURL != "" {
		return c.SourceURL
	}
	return c.PlatformURL
}

// Validate reports every missing or malformed setting.
func (c Config) Validate() error {
	var errs []error
	if c.PlatformURL == "" {
		errs = append(errs, errors.New("platform url is required (GWIMPORT_PLATFORM_URL or --platform-url)"))
	} else if err := checkURL(c.PlatformURL); err != nil {
		errs = append(errs, fmt.Errorf("platform url: %w", err))
	}
	if c.SourceURL != "" {
		if err := checkURL(c.SourceURL); err != nil {
			errs = append(errs, fmt.Errorf("source url: %w", err))
		}
	}
	if c.Tenant == "" {
		errs = append(errs, errors.New("tenant is required (GWIMPORT_TENANT or --tenant)"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %g", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate burst must be at least 1, got %d", c.RateBurst))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
