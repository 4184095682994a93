// Package config defines the global configuration for the PaperPlan
// entitlement service. Configuration is loaded once at process start and is
// immutable thereafter, following 12-Factor principles: values come from the
// OS environment, with a .env file as a development convenience. Any missing
// required value or invalid format fails startup immediately.
package config

import "time"

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server and public URL settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is used for Stripe redirect targets (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" default:"http://localhost:3000" validate:"url"`

	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"20s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AuthConfig selects the identity source for authenticated routes.
type AuthConfig struct {
	// TokenSecret enables HMAC bearer-token verification when set. Empty
	// keeps trusted-header identity for deployments where the edge proxy
	// strips and injects X-User-Id itself.
	TokenSecret string `envconfig:"AUTH_TOKEN_SECRET"`
}

// BillingConfig holds Stripe credentials.
type BillingConfig struct {
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}
