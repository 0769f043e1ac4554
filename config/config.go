// Package config loads the integration's configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/tradelane-dev/marketauth/internal/autherr"
)

// Config holds every tunable of the token lifecycle stack.
type Config struct {
	// ConnectorURL is the exchange endpoint base URL. Required.
	ConnectorURL string `env:"MARKETAUTH_CONNECTOR_URL"`
	// RedirectURI is sent with code exchanges. Derived from the callback
	// port and path when empty.
	RedirectURI string `env:"MARKETAUTH_REDIRECT_URI"`
	// CallbackPort is the localhost port the login flow listens on.
	CallbackPort int `env:"MARKETAUTH_CALLBACK_PORT" envDefault:"3434"`
	// CallbackPath is the redirect target path.
	CallbackPath string `env:"MARKETAUTH_CALLBACK_PATH" envDefault:"/oauth/callback"`
	// SuccessURL is where the success page forwards the browser.
	SuccessURL string `env:"MARKETAUTH_SUCCESS_URL"`

	// Store selects the credential store backend: file, memory or redis.
	Store string `env:"MARKETAUTH_STORE" envDefault:"file"`
	// StoreDir is the file backend directory. Empty means ~/.marketauth.
	StoreDir string `env:"MARKETAUTH_STORE_DIR"`
	// RedisAddr, RedisPassword and RedisDB configure the redis backend.
	RedisAddr     string `env:"MARKETAUTH_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"MARKETAUTH_REDIS_PASSWORD"`
	RedisDB       int    `env:"MARKETAUTH_REDIS_DB" envDefault:"0"`

	// Skew is the expiring-soon threshold.
	Skew time.Duration `env:"MARKETAUTH_SKEW" envDefault:"5m"`
	// PollInterval is the store reconciliation interval.
	PollInterval time.Duration `env:"MARKETAUTH_POLL_INTERVAL" envDefault:"2s"`
	// ExchangeTimeout bounds each connector call.
	ExchangeTimeout time.Duration `env:"MARKETAUTH_EXCHANGE_TIMEOUT" envDefault:"15s"`
}

// FromEnv parses the MARKETAUTH_* environment variables. Defaults apply
// for everything but the connector URL, which callers must validate before
// touching the network.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RedirectURI == "" {
		c.RedirectURI = fmt.Sprintf("http://localhost:%d%s", c.CallbackPort, c.CallbackPath)
	}
}

// Validate checks that the configuration can drive an exchange.
func (c *Config) Validate() error {
	if c.ConnectorURL == "" {
		return autherr.New(autherr.ConfigurationError, "MARKETAUTH_CONNECTOR_URL is not set")
	}
	return nil
}
