package config

import "time"

// Defaults follow the conventional pre-fork server surface: one worker bound
// to the exposed port, 30-second request and drain budgets.
const (
	DefaultBind           = ":8000"
	DefaultWorkers        = 1
	DefaultRequestTimeout = 30 * time.Second
	DefaultGracePeriod    = 30 * time.Second
	DefaultBootFailWindow = 10 * time.Second
	DefaultBootFailBudget = 3
)

// applyDefaults sets default values for unspecified configuration.
func applyDefaults(cfg *FileConfig) {
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = DefaultBind
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = DefaultWorkers
	}
	if cfg.Server.RequestTimeout == "" {
		cfg.Server.RequestTimeout = DefaultRequestTimeout.String()
	}
	if cfg.Server.GracePeriod == "" {
		cfg.Server.GracePeriod = DefaultGracePeriod.String()
	}
	if cfg.Server.BootFailWindow == "" {
		cfg.Server.BootFailWindow = DefaultBootFailWindow.String()
	}
	if cfg.Server.BootFailBudget == 0 {
		cfg.Server.BootFailBudget = DefaultBootFailBudget
	}
}
