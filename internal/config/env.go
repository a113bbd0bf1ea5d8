package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides overrides config values with environment variables if set.
// Returns error for invalid environment variable values to fail fast.
func applyEnvOverrides(cfg *FileConfig) error {
	if bind := os.Getenv("PREFORK_BIND"); bind != "" {
		cfg.Server.Bind = bind
	}
	if workers := os.Getenv("PREFORK_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid PREFORK_WORKERS %q: %w", workers, err)
		}
		cfg.Server.Workers = n
	}
	if timeout := os.Getenv("PREFORK_REQUEST_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err != nil {
			return fmt.Errorf("invalid PREFORK_REQUEST_TIMEOUT %q: %w", timeout, err)
		}
		cfg.Server.RequestTimeout = timeout
	}
	if grace := os.Getenv("PREFORK_GRACE_PERIOD"); grace != "" {
		if _, err := time.ParseDuration(grace); err != nil {
			return fmt.Errorf("invalid PREFORK_GRACE_PERIOD %q: %w", grace, err)
		}
		cfg.Server.GracePeriod = grace
	}
	return nil
}
