package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig loads and validates the configuration:
//
//  1. Enforce UTC process-wide to prevent timezone drift in the fair-use
//     month window and event timestamps.
//  2. Load a .env file if present (non-fatal when absent).
//  3. Populate the Config struct from the environment via envconfig.
//  4. Validate with go-playground/validator and fail fast.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	// Development convenience only; production supplies real env vars.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
