// Package config loads the secrets server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends
const (
	StoreFS        = "fs"
	StoreGORM      = "gorm"
	StoreDatastore = "datastore"
)

// Config is the complete server configuration
type Config struct {
	Addr    string `env:"SECRETS_ADDR"     envDefault:":3000"`
	BaseURL string `env:"SECRETS_BASE_URL" envDefault:"http://localhost:3000"`

	// Google, named as in the original deployment's .env
	GoogleClientID     string   `env:"CLIENT_ID"`
	GoogleClientSecret string   `env:"CLIENT_SECRET"`
	GoogleScopes       []string `env:"SECRETS_GOOGLE_SCOPES"   envSeparator:"," envDefault:"profile"`

	// Facebook
	FacebookAppID     string   `env:"APP_ID"`
	FacebookAppSecret string   `env:"APP_SECRET"`
	FacebookScopes    []string `env:"SECRETS_FACEBOOK_SCOPES" envSeparator:"," envDefault:"public_profile"`

	Store                string `env:"SECRETS_STORE"                 envDefault:"fs"`
	StorePath            string `env:"SECRETS_STORE_PATH"            envDefault:"./data"`
	DatabaseDSN          string `env:"SECRETS_DB_DSN"                envDefault:"secrets.db"`
	DatastoreProject     string `env:"SECRETS_DATASTORE_PROJECT"`
	DatastoreNamespace   string `env:"SECRETS_DATASTORE_NAMESPACE"`
	DatastoreCredentials string `env:"SECRETS_DATASTORE_CREDENTIALS"`

	SessionLifetime    time.Duration `env:"SECRETS_SESSION_LIFETIME"     envDefault:"24h"`
	SessionIdleTimeout time.Duration `env:"SECRETS_SESSION_IDLE_TIMEOUT" envDefault:"0"`
	StateSecret        string        `env:"SECRETS_STATE_SECRET"`

	MinPasswordLength int `env:"SECRETS_MIN_PASSWORD" envDefault:"0"`
	BcryptCost        int `env:"SECRETS_BCRYPT_COST"  envDefault:"0"`

	RateLimit int `env:"SECRETS_RATE_LIMIT" envDefault:"20"` // per minute per client
	RateBurst int `env:"SECRETS_RATE_BURST" envDefault:"10"`

	LogLevel  string `env:"SECRETS_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"SECRETS_LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment into a Config
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreFS, StoreGORM, StoreDatastore:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q, want one of fs, gorm, datastore", c.Store))
	}
	if c.Store == StoreDatastore && c.DatastoreProject == "" {
		errs = append(errs, errors.New("SECRETS_DATASTORE_PROJECT is required for the datastore store"))
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, errors.New("google needs both CLIENT_ID and CLIENT_SECRET"))
	}
	if (c.FacebookAppID == "") != (c.FacebookAppSecret == "") {
		errs = append(errs, errors.New("facebook needs both APP_ID and APP_SECRET"))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid SECRETS_BASE_URL %q", c.BaseURL))
	}
	if c.SessionLifetime <= 0 {
		errs = append(errs, errors.New("SECRETS_SESSION_LIFETIME must be positive"))
	}
	if c.MinPasswordLength < 0 {
		errs = append(errs, errors.New("SECRETS_MIN_PASSWORD must not be negative"))
	}
	if c.BcryptCost != 0 && (c.BcryptCost < 4 || c.BcryptCost > 31) {
		errs = append(errs, fmt.Errorf("SECRETS_BCRYPT_COST %d out of range 4-31", c.BcryptCost))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q, want text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// GoogleEnabled reports whether Google login is configured
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// FacebookEnabled reports whether Facebook login is configured
func (c *Config) FacebookEnabled() bool {
	return c.FacebookAppID != "" && c.FacebookAppSecret != ""
}

// CallbackURL returns the redirect URL registered with provider
func (c *Config) CallbackURL(provider string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/auth/" + provider + "/secrets"
}

// SecureCookies is true when the site is served over https
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(c.BaseURL), "https://")
}

// SlogLevel parses LogLevel
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid SECRETS_LOG_LEVEL %q", c.LogLevel)
	}
	return level, nil
}
