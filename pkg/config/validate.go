package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct-level validation
// tags plus cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.ControlPlane.HasJWTSecret() && len(cfg.ControlPlane.GetJWTSecret()) < 32 {
		return fmt.Errorf("controlplane.jwt.secret must be at least 32 characters")
	}

	if cfg.Cleanup.Interval < 0 || cfg.Cleanup.Retention < 0 {
		return fmt.Errorf("cleanup durations must not be negative")
	}

	return nil
}
