// Package config loads environment-based configuration. A local .env
// file is honored when present; real environments set variables
// directly.
package config

import (
	"errors"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrNilPointer    = errors.New("config target must be a non-nil pointer")
	ErrParsingConfig = errors.New("failed to parse configuration")

	dotenvOnce sync.Once
)

// Load parses environment variables into the provided struct based on
// its `env` field tags.
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		// The .env file is optional; ignore a missing one.
		_ = godotenv.Load()
	})

	if v == nil {
		return ErrNilPointer
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics on failure. Used for configuration
// the application cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(err)
	}
}
