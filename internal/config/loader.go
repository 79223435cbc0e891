// Package config loads runtime settings and the agent roster.
//
// Settings precedence (highest to lowest): CONVOY_* environment variables,
// YAML config file, built-in defaults. The roster is a separate YAML file
// declaring agents, phases, and dependencies; it is validated (including
// dependency-cycle rejection) at load time, before anything runs.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CONVOY_"

// Load reads settings from the given YAML file (missing file is not an
// error) and applies environment overrides.
func Load(configPath string) (*Settings, error) {
	k := koanf.New(".")

	cfg := DefaultSettings()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	// CONVOY_MONITOR_POLL_INTERVAL -> monitor.poll_interval. The first
	// underscore separates the section; the rest stays a single field name.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(s, "_", 2)
		if len(parts) == 1 {
			return parts[0]
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would make the pipeline unsafe to run.
func (s *Settings) Validate() error {
	if s.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive, got %s", s.Monitor.PollInterval)
	}
	if s.Monitor.FreshnessWindow <= 0 {
		return fmt.Errorf("monitor.freshness_window must be positive, got %s", s.Monitor.FreshnessWindow)
	}
	if s.Monitor.CompletenessRatio <= 0 || s.Monitor.CompletenessRatio > 1 {
		return fmt.Errorf("monitor.completeness_ratio must be in (0,1], got %v", s.Monitor.CompletenessRatio)
	}
	if s.Monitor.DeletionTolerance < 0 {
		return fmt.Errorf("monitor.deletion_tolerance must be non-negative, got %d", s.Monitor.DeletionTolerance)
	}
	if s.Agent.MaxRestarts < 0 {
		return fmt.Errorf("agent.max_restarts must be non-negative, got %d", s.Agent.MaxRestarts)
	}
	if s.Agent.TestTimeout <= 0 || s.Agent.InvokeTimeout <= 0 {
		return fmt.Errorf("agent timeouts must be positive")
	}
	if s.Experiment.WatchInterval <= 0 {
		return fmt.Errorf("experiment.watch_interval must be positive, got %s", s.Experiment.WatchInterval)
	}
	return nil
}
