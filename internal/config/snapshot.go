package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Snapshot encodes the resolved configuration for handoff to a worker
// process. The snapshot travels in an environment variable, so a worker
// always runs with the exact configuration it was spawned under even if the
// config file or environment changed since.
func (s Server) Snapshot() ([]byte, error) {
	cfg := FileConfig{
		Version: 1,
		Server: ServerSection{
			Bind:           s.Bind,
			Workers:        s.Workers,
			RequestTimeout: s.RequestTimeout.String(),
			GracePeriod:    s.GracePeriod.String(),
			BootFailWindow: s.BootFailWindow.String(),
			BootFailBudget: s.BootFailBudget,
		},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config snapshot: %w", err)
	}
	return data, nil
}

// FromSnapshot decodes a worker-side configuration snapshot.
func FromSnapshot(data []byte) (Server, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("failed to parse config snapshot: %w", err)
	}
	return Resolve(cfg)
}
