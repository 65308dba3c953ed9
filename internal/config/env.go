package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvOverrides holds settings read from CMDGATE_* environment variables.
// They take precedence over the config file for per-invocation tweaks
// without editing ~/.cmdgate/config.yaml.
type EnvOverrides struct {
	// LogLevel overrides log.level
	// Env: CMDGATE_LOG_LEVEL
	LogLevel string `envconfig:"LOG_LEVEL"`

	// NoColor overrides log.no_color
	// Env: CMDGATE_NO_COLOR
	NoColor bool `envconfig:"NO_COLOR"`

	// StorePath overrides store.path
	// Env: CMDGATE_STORE
	StorePath string `envconfig:"STORE"`
}

// LoadEnvOverrides reads overrides from the environment.
func LoadEnvOverrides() (*EnvOverrides, error) {
	var o EnvOverrides
	if err := envconfig.Process("cmdgate", &o); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	return &o, nil
}

// Apply layers the overrides on top of a loaded config. Unset env vars
// leave the config untouched.
func (o *EnvOverrides) Apply(cfg *Config) {
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.NoColor {
		cfg.Log.NoColor = true
	}
	if o.StorePath != "" {
		cfg.Store.Path = o.StorePath
	}
}
