package config

import (
	"time"
)

// Settings is the top-level runtime configuration. Values come from
// defaults, then the YAML config file, then CONVOY_* environment variables,
// highest precedence last.
type Settings struct {
	Logging    LoggingSettings    `koanf:"logging"`
	Workspace  WorkspaceSettings  `koanf:"workspace"`
	Monitor    MonitorSettings    `koanf:"monitor"`
	Agent      AgentSettings      `koanf:"agent"`
	Experiment ExperimentSettings `koanf:"experiment"`
}

// LoggingSettings controls the zap logger.
type LoggingSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// WorkspaceSettings locates the repository and the shared-state tree.
type WorkspaceSettings struct {
	RepoPath string `koanf:"repo_path"`
	StateDir string `koanf:"state_dir"`
	AuditDB  string `koanf:"audit_db"`
}

// MonitorSettings tunes the compliance and boundary monitor loops. The
// thresholds are heuristics with conservative defaults, not derived values.
type MonitorSettings struct {
	PollInterval      time.Duration `koanf:"poll_interval"`
	FreshnessWindow   time.Duration `koanf:"freshness_window"`
	ModifiedFileLimit int           `koanf:"modified_file_limit"`
	DeletionTolerance int           `koanf:"deletion_tolerance"`
	CompletenessRatio float64       `koanf:"completeness_ratio"`
	CriticalRepeat    int           `koanf:"critical_repeat"`
	AutoPause         bool          `koanf:"auto_pause"`
}

// AgentSettings bounds agent external calls and restarts. An empty
// InvokeCommand disables coding-agent invocation; runners then only run
// test commands.
type AgentSettings struct {
	MaxRestarts   int           `koanf:"max_restarts"`
	TestTimeout   time.Duration `koanf:"test_timeout"`
	InvokeTimeout time.Duration `koanf:"invoke_timeout"`
	InvokeCommand string        `koanf:"invoke_command"`
	PollInterval  time.Duration `koanf:"poll_interval"`
}

// ExperimentSettings tunes the sandbox watch loop.
type ExperimentSettings struct {
	WatchInterval         time.Duration `koanf:"watch_interval"`
	DeletionTolerance     int           `koanf:"deletion_tolerance"`
	ModificationTolerance int           `koanf:"modification_tolerance"`
}
