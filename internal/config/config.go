// Package config loads the cmdgate application config: logging, store
// location, and watch behavior. The approval policy itself lives in the
// approval store, not here.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cmdgate/cmdgate/internal/logger"
)

var cfgLog = logger.New("config")

// Config represents the cmdgate configuration
type Config struct {
	Log   LogConfig   `yaml:"log"`
	Store StoreConfig `yaml:"store"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"no_color"`
}

// StoreConfig holds approval store settings
type StoreConfig struct {
	// Path is the approval store file (default: ~/.cmdgate/approvals.json)
	Path string `yaml:"path"`
	// Watch enables hot reload when the store file changes on disk
	Watch bool `yaml:"watch"`
}

// DefaultConfigPath returns the default config file path (~/.cmdgate/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".cmdgate", "config.yaml")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "warn",
			NoColor: false,
		},
		Store: StoreConfig{
			Path:  "", // empty means the approval package default
			Watch: true,
		},
	}
}

// Validate checks all Config fields.
// Call this AFTER env overrides have been applied, not during Load().
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: unknown log level %q (valid: trace, debug, info, warn, error)", c.Log.Level)
	}
	return nil
}

// isUnknownFieldError returns true if the error is from yaml.Decoder.KnownFields(true)
// detecting an unrecognized key (e.g. typo like "stor:").
func isUnknownFieldError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found in type")
}

// Load loads configuration from a YAML file. A missing file is not an
// error; defaults apply.
// Note: Load does NOT call Validate(). Callers should apply env overrides
// first, then call cfg.Validate() themselves.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// Try strict decode to warn about unknown fields (typos like "stor:")
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if isUnknownFieldError(err) {
			cfgLog.Warn("config has unknown fields (ignored): %v", err)
			// Re-parse without strict mode for forward compatibility
			cfg = DefaultConfig()
			if err2 := yaml.Unmarshal(data, cfg); err2 != nil {
				return nil, fmt.Errorf("config parse error: %w", err2)
			}
		} else {
			return nil, fmt.Errorf("config parse error: %w", err)
		}
	}

	return cfg, nil
}
