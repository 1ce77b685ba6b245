// Package config loads an agora.yaml file: the defaults `agora run`,
// `agora check`, and `agora inspect` fall back to when a CLI flag
// doesn't override them. Modeled on the teacher's own config package:
// yaml.v3 with strict unknown-field rejection, ${VAR} expansion before
// decode, and a small Duration wrapper for human-readable durations.
package config

import (
	"fmt"
	"time"

	"github.com/justapithecus/agora/kernel"
)

// Config is the root shape of an agora.yaml file. Every field is
// optional; kernel.Config.withDefaults fills in anything left zero.
type Config struct {
	RunsRoot       string `yaml:"runs_root"`
	CheckpointRoot string `yaml:"checkpoint_root"`

	MintRatio      int64  `yaml:"mint_ratio"`
	MintMaxHistory int    `yaml:"mint_max_history"`
	UBISinkID      string `yaml:"ubi_sink_id"`

	MaxDependencyDepth int   `yaml:"max_dependency_depth"`
	MaxInvokeDepth     int   `yaml:"max_invoke_depth"`
	SummaryWindow      int64 `yaml:"summary_window"`
	DiskQuotaDefault   int64 `yaml:"disk_quota_default"`

	Delegation  DelegationConfig `yaml:"delegation"`
	RunDuration Duration         `yaml:"run_duration"`
}

// DelegationConfig selects the charge-delegation rolling-window
// backend. Backend "redis" requires RedisURL; anything else (including
// empty) uses the in-memory backend.
type DelegationConfig struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
}

// Duration wraps time.Duration so it can be written as "30s" in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "30s" or "5m". An empty
// string leaves the zero duration in place.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ToKernelConfig maps the loaded file into a kernel.Config. Callers
// (cli/cmd) may still override individual fields — e.g. RunID, or
// DelegationWindow once a Redis client is constructed — before Build.
func (c *Config) ToKernelConfig(runID string) kernel.Config {
	return kernel.Config{
		RunID:              runID,
		RunsRoot:           c.RunsRoot,
		CheckpointRoot:     c.CheckpointRoot,
		MintRatio:          c.MintRatio,
		MintMaxHistory:     c.MintMaxHistory,
		UBISinkID:          c.UBISinkID,
		MaxDependencyDepth: c.MaxDependencyDepth,
		MaxInvokeDepth:     c.MaxInvokeDepth,
		SummaryWindow:      c.SummaryWindow,
		DiskQuotaDefault:   c.DiskQuotaDefault,
	}
}
