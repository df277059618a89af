// Package config loads collab service settings from COLLAB_-prefixed
// environment variables and gives command entry points a shared fatal-exit
// path.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from the environment variables named in its env tags.
// Service commands call it before layering flag overrides on top.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
