// Package config loads, defaults, and validates the prefork runtime
// configuration.
//
// Configuration comes from an optional YAML file, overridden by environment
// variables, and is resolved into an immutable Server value before the master
// binds its listener. The resolved value is copied into each worker process
// at spawn time via a YAML snapshot; nothing is shared or mutated after
// resolution.
package config

import "time"

// ServerSection is the YAML surface for the listening socket and worker pool.
// Durations use Go duration format: "30s", "1m", etc.
type ServerSection struct {
	// Bind is the TCP address the master listens on, e.g. ":8000" or
	// "127.0.0.1:8000".
	Bind string `yaml:"bind"`

	// Workers is the number of worker processes kept alive.
	Workers int `yaml:"workers"`

	// RequestTimeout bounds the handling of a single request. A request
	// exceeding it is answered with an error response; the worker is not
	// considered failed.
	RequestTimeout string `yaml:"request_timeout"`

	// GracePeriod bounds draining: how long reload and shutdown wait for
	// in-flight requests before force-terminating a worker.
	GracePeriod string `yaml:"grace_period"`

	// BootFailWindow and BootFailBudget bound adapter-initialization
	// retries: BootFailBudget init failures within BootFailWindow make
	// the whole runtime exit instead of respawning forever.
	BootFailWindow string `yaml:"boot_fail_window"`
	BootFailBudget int    `yaml:"boot_fail_budget"`
}

// FileConfig represents a prefork configuration file.
//
// The config format is versioned to support future evolution without breaking
// changes.
type FileConfig struct {
	// Version is the config file format version (optional, currently always 1)
	Version int `yaml:"version,omitempty"`

	Server ServerSection `yaml:"server"`
}

// Server is the resolved runtime configuration. It is created once at process
// start and never mutated afterwards; workers receive a copy, not a reference.
type Server struct {
	Bind           string
	Workers        int
	RequestTimeout time.Duration
	GracePeriod    time.Duration
	BootFailWindow time.Duration
	BootFailBudget int
}

// ConfigError reports invalid or malformed configuration. It is fatal: the
// master must not bind the listener once one is returned.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "invalid config: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }
