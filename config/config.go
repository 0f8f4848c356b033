// Package config loads freightboard configuration from an optional YAML
// file with environment-variable overrides. Missing file means defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Addr      string          `yaml:"addr"`
	DBPath    string          `yaml:"db_path"`
	AttachDir string          `yaml:"attach_dir"`
	LogLevel  string          `yaml:"log_level"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// SchedulerConfig controls the background maintenance tasks.
type SchedulerConfig struct {
	RetirementInterval time.Duration `yaml:"retirement_interval"`
}

// UnmarshalYAML accepts Go duration strings ("30m", "1h") for the interval.
func (s *SchedulerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		RetirementInterval string `yaml:"retirement_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.RetirementInterval != "" {
		d, err := time.ParseDuration(raw.RetirementInterval)
		if err != nil {
			return fmt.Errorf("retirement_interval: %w", err)
		}
		s.RetirementInterval = d
	}
	return nil
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8766"
	}
	if c.DBPath == "" {
		c.DBPath = "freightboard.db"
	}
	if c.AttachDir == "" {
		c.AttachDir = "attachments"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Scheduler.RetirementInterval <= 0 {
		c.Scheduler.RetirementInterval = 30 * time.Minute
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FREIGHTBOARD_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("FREIGHTBOARD_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("FREIGHTBOARD_ATTACH_DIR"); v != "" {
		c.AttachDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Load reads path (when non-empty and present), applies env overrides, then
// fills defaults. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env + defaults
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	c.applyEnv()
	c.defaults()
	return &c, nil
}
