package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Monitor.PollInterval == 0 {
		cfg.Monitor.PollInterval = 60 * time.Second
	}
	if cfg.Monitor.MinRuntime == 0 {
		cfg.Monitor.MinRuntime = 5 * time.Minute
	}
	if cfg.Monitor.RecheckDelay == 0 {
		cfg.Monitor.RecheckDelay = 10 * time.Minute
	}
	if cfg.Monitor.MaxRecoveryAttempts == 0 {
		cfg.Monitor.MaxRecoveryAttempts = 3
	}
	if cfg.Monitor.WorkRoot == "" {
		cfg.Monitor.WorkRoot = "work"
	}

	return &cfg, nil
}
