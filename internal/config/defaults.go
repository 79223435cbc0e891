package config

import (
	"time"
)

// DefaultSettings returns the built-in configuration. Every value can be
// overridden by the YAML config file or a CONVOY_* environment variable.
func DefaultSettings() *Settings {
	return &Settings{
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
		},
		Workspace: WorkspaceSettings{
			RepoPath: ".",
			StateDir: ".convoy/state",
			AuditDB:  ".convoy/audit.db",
		},
		Monitor: MonitorSettings{
			PollInterval:      30 * time.Second,
			FreshnessWindow:   5 * time.Minute,
			ModifiedFileLimit: 20,
			DeletionTolerance: 10,
			CompletenessRatio: 0.8,
			CriticalRepeat:    3,
			AutoPause:         false,
		},
		Agent: AgentSettings{
			MaxRestarts:   5,
			TestTimeout:   10 * time.Minute,
			InvokeTimeout: 30 * time.Minute,
			PollInterval:  15 * time.Second,
		},
		Experiment: ExperimentSettings{
			WatchInterval:         60 * time.Second,
			DeletionTolerance:     10,
			ModificationTolerance: 50,
		},
	}
}
