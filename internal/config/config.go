package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFilename is looked up in the working directory when --config is not given.
const DefaultConfigFilename = ".xfer.yaml"

// Config holds the YAML configuration for a run.
type Config struct {
	Dir           string   `yaml:"dir"`           // Directory scanned for job-definition files
	LogDir        string   `yaml:"log_dir"`       // Where per-job log files are written; empty means Dir
	LogLevel      string   `yaml:"log_level"`     // Logging level: debug, info, warn, error
	Exclude       []string `yaml:"exclude"`       // Glob patterns excluded from every job
	DryRun        bool     `yaml:"dry_run"`       // If true, don't touch any file
	Notifications bool     `yaml:"notifications"` // If true, send a desktop notification per job
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Dir:      ".",
		LogLevel: "info",
	}
}

// LoadConfig reads path on top of the defaults. Keys missing from the file
// keep their default value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	return cfg, nil
}

// JobLogDir returns the directory for per-job logs, defaulting to the job directory.
func (c *Config) JobLogDir() string {
	if c.LogDir != "" {
		return c.LogDir
	}
	return c.Dir
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return LoadConfig(path)
}
