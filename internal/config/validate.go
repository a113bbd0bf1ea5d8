package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Resolve parses and validates a file config into the immutable runtime
// Server value.
//
// Ensures:
//   - Bind is non-empty and a parseable host:port
//   - Workers is a positive integer
//   - RequestTimeout and BootFailWindow are positive durations
//   - GracePeriod is a non-negative duration
//   - BootFailBudget is a positive integer
func Resolve(cfg FileConfig) (Server, error) {
	var srv Server

	if cfg.Server.Bind == "" {
		return srv, errors.New("server.bind must be set")
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Bind); err != nil {
		return srv, fmt.Errorf("invalid server.bind %q: %w", cfg.Server.Bind, err)
	}
	srv.Bind = cfg.Server.Bind

	if cfg.Server.Workers <= 0 {
		return srv, fmt.Errorf("server.workers must be a positive integer, got %d", cfg.Server.Workers)
	}
	srv.Workers = cfg.Server.Workers

	requestTimeout, err := time.ParseDuration(cfg.Server.RequestTimeout)
	if err != nil {
		return srv, fmt.Errorf("invalid server.request_timeout %q: %w", cfg.Server.RequestTimeout, err)
	}
	if requestTimeout <= 0 {
		return srv, fmt.Errorf("server.request_timeout must be positive, got %s", requestTimeout)
	}
	srv.RequestTimeout = requestTimeout

	grace, err := time.ParseDuration(cfg.Server.GracePeriod)
	if err != nil {
		return srv, fmt.Errorf("invalid server.grace_period %q: %w", cfg.Server.GracePeriod, err)
	}
	if grace < 0 {
		return srv, fmt.Errorf("server.grace_period must not be negative, got %s", grace)
	}
	srv.GracePeriod = grace

	window, err := time.ParseDuration(cfg.Server.BootFailWindow)
	if err != nil {
		return srv, fmt.Errorf("invalid server.boot_fail_window %q: %w", cfg.Server.BootFailWindow, err)
	}
	if window <= 0 {
		return srv, fmt.Errorf("server.boot_fail_window must be positive, got %s", window)
	}
	srv.BootFailWindow = window

	if cfg.Server.BootFailBudget <= 0 {
		return srv, fmt.Errorf("server.boot_fail_budget must be a positive integer, got %d", cfg.Server.BootFailBudget)
	}
	srv.BootFailBudget = cfg.Server.BootFailBudget

	return srv, nil
}
