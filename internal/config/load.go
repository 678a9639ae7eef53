package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load parses, defaults, and validates a YAML config document.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	for name, p := range cfg.Providers {
		p.Name = name
		cfg.Providers[name] = p
	}

	if len(cfg.Tools.RestrictedToolNames) == 0 {
		cfg.Tools = DefaultToolPolicy()
	}
	if cfg.TimeoutsMS.ConnectMS == 0 {
		cfg.TimeoutsMS.ConnectMS = 5000
	}
	if cfg.TimeoutsMS.ReadMS == 0 {
		cfg.TimeoutsMS.ReadMS = 600000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and loads a config document from disk.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Load(data)
}
