// Package config loads settings from an optional YAML file with environment
// variable overrides. Environment always wins over the file, the file over
// the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the library and CLI.
type Config struct {
	// Username is the MitID identity used for logins.
	Username string `yaml:"username" env:"AULA_USERNAME"`
	// TokenFile is where credentials are persisted between runs.
	TokenFile string `yaml:"token-file" env:"AULA_TOKEN_FILE"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"log-level" env:"AULA_LOG_LEVEL"`
	// LogFile redirects logs into a rotating file when set.
	LogFile string `yaml:"log-file" env:"AULA_LOG_FILE"`
	// ProxyURL routes all federation traffic through a proxy.
	ProxyURL string `yaml:"proxy-url" env:"AULA_PROXY_URL"`
	// RequestTimeoutSeconds bounds each HTTP request of the login flow.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds" env:"AULA_REQUEST_TIMEOUT_SECONDS"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TokenFile:             filepath.Join(homeDir(), ".aula", "tokens.json"),
		LogLevel:              "info",
		RequestTimeoutSeconds: 30,
	}
}

// Load reads the configuration. When path is empty the default location
// (~/.aula/config.yaml) is tried and silently skipped if absent; an
// explicitly given path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(homeDir(), ".aula", "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; defaults plus environment apply.
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err = env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	return &cfg, nil
}

// RequestTimeout returns the request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
