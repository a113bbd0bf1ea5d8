package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a prefork configuration file.
func Load(path string) (FileConfig, error) {
	var cfg FileConfig

	// Clean the path to prevent directory traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - Config file path is trusted (from admin/user)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadServer produces the resolved runtime configuration: file (optional),
// then defaults, then environment overrides, then validation. An empty path
// skips the file layer and starts from defaults alone.
//
// All failures are reported as *ConfigError so callers can fail fast before
// binding the listener.
func LoadServer(path string) (Server, error) {
	var cfg FileConfig
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return Server{}, &ConfigError{Err: err}
		}
		cfg = loaded
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return Server{}, &ConfigError{Err: err}
	}

	srv, err := Resolve(cfg)
	if err != nil {
		return Server{}, &ConfigError{Err: err}
	}
	return srv, nil
}
