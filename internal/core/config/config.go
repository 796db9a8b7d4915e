package config

import (
	"time"

	"github.com/vietddude/calcwatch/internal/infra/inputs"
	redisclient "github.com/vietddude/calcwatch/internal/infra/redis"
	"github.com/vietddude/calcwatch/internal/infra/scheduler/slurm"
	"github.com/vietddude/calcwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Scheduler slurm.Config       `yaml:"scheduler"`
	Monitor   MonitorConfig      `yaml:"monitor"`
	Generator inputs.Config      `yaml:"generator"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MonitorConfig holds the monitor loop settings.
type MonitorConfig struct {
	// PollInterval is the cadence of scheduler polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MinRuntime is the elapsed-time floor before a running calculation's
	// output is inspected for early failure.
	MinRuntime time.Duration `yaml:"min_runtime"`

	// RecheckDelay is how long to wait before re-checking a calculation
	// whose output artifact was missing or unreadable.
	RecheckDelay time.Duration `yaml:"recheck_delay"`

	// MaxRecoveryAttempts bounds automated recovery per calculation.
	MaxRecoveryAttempts int `yaml:"max_recovery_attempts"`

	// WorkRoot is where per-calculation working directories live.
	WorkRoot string `yaml:"work_root"`

	// MirrorPath is the legacy status mirror file. Empty disables it.
	MirrorPath string `yaml:"mirror_path"`

	// RulesFile holds extra classifier rules in YAML. Empty uses only the
	// built-in table.
	RulesFile string `yaml:"rules_file"`
}
