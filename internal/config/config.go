package config

import (
	"errors"

	"github.com/caarlos0/env/v11"
)

// Config is the full environment surface of the service. Every knob has a
// default suitable for local development except the external endpoints,
// which fall back to the in-memory implementations when unset.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"` // empty selects the in-memory store
	RedisURL    string `env:"REDIS_URL"`    // empty selects the in-process event broker
	MigrateDir  string `env:"MIGRATE_DIR" envDefault:"db/migrations"`

	Auth struct {
		Mode       string `env:"MODE" envDefault:"dev"` // dev, hmac, jwks
		HMACSecret string `env:"HMAC_SECRET"`
		JWKSURL    string `env:"JWKS_URL"`
	} `envPrefix:"AUTH_"`

	Optimize struct {
		RatePerMinute int `env:"RATE_PER_MINUTE" envDefault:"6"`
		RateBurst     int `env:"RATE_BURST" envDefault:"3"`
	} `envPrefix:"OPTIMIZE_"`

	Webhook struct {
		MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"10"`
	} `envPrefix:"WEBHOOK_"`

	ShutdownTimeout int `env:"SHUTDOWN_TIMEOUT" envDefault:"10"` // seconds
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		aggErr := env.AggregateError{}
		if errors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}
	return cfg, nil
}
