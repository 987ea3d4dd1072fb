package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"npud/pkg/types"
)

// DeviceConfig describes one simulated device supplied at registration
// time. The core never discovers simulation parameters on its own.
type DeviceConfig struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Name string `json:"name" yaml:"name" toml:"name"`
	Type string `json:"type" yaml:"type" toml:"type"`
	// Seed makes the device's simulation reproducible.
	Seed int64 `json:"seed" yaml:"seed" toml:"seed"`
	// BaseLatencyMS is the fixed per-inference latency floor.
	BaseLatencyMS int `json:"base_latency_ms" yaml:"base_latency_ms" toml:"base_latency_ms"`
	// Fault-injection rates in [0,1].
	FailOOMRate     float64 `json:"fail_oom_rate" yaml:"fail_oom_rate" toml:"fail_oom_rate"`
	FailBusyRate    float64 `json:"fail_busy_rate" yaml:"fail_busy_rate" toml:"fail_busy_rate"`
	FailTimeoutRate float64 `json:"fail_timeout_rate" yaml:"fail_timeout_rate" toml:"fail_timeout_rate"`
	// Capabilities of the simulated device; zero means package defaults.
	Capabilities types.Capabilities `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
}

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Scheduler tunables.
	SweepIntervalMS  int `json:"sweep_interval_ms" yaml:"sweep_interval_ms" toml:"sweep_interval_ms"`
	MaxRetries       int `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	TaskRetentionSec int `json:"task_retention_sec" yaml:"task_retention_sec" toml:"task_retention_sec"`

	// CORS (opt-in).
	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	// Simulated device fleet registered at startup.
	Devices []DeviceConfig `json:"devices" yaml:"devices" toml:"devices"`
}

// SweepInterval converts the millisecond field, zero meaning unset.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// TaskRetention converts the seconds field, zero meaning unset.
func (c Config) TaskRetention() time.Duration {
	return time.Duration(c.TaskRetentionSec) * time.Second
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
