// Package config loads the taskpipe configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/pipeline"
	"github.com/anstrom/taskpipe/internal/tasks"
	"github.com/anstrom/taskpipe/internal/tasks/batchdownload"
	"github.com/anstrom/taskpipe/internal/tasks/nmapscan"
	"github.com/anstrom/taskpipe/internal/worker"
)

// Config represents the complete configuration
type Config struct {
	// Pipeline timing and output handling
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Network scan task
	Nmap nmapscan.Config `yaml:"nmap" json:"nmap"`

	// Batch download task
	Download batchdownload.Config `yaml:"download" json:"download"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Recurring task starts
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// PipelineConfig holds worker and consumer settings
type PipelineConfig struct {
	// How often the consumer drains the progress channel
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// Time between SIGTERM and SIGKILL on cancel. Zero sends both back to back.
	KillGrace time.Duration `yaml:"kill_grace" json:"kill_grace"`

	// Longest output line kept; longer lines are dropped
	ScanBufferBytes int `yaml:"scan_buffer_bytes" json:"scan_buffer_bytes"`

	// Output lines kept for failure reports
	OutputTailLines int `yaml:"output_tail_lines" json:"output_tail_lines"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	Host string `yaml:"host" json:"host"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// CORS settings
	EnableCORS  bool     `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// ScheduleConfig describes one cron-triggered task.
type ScheduleConfig struct {
	Name string `yaml:"name" json:"name"`

	// Standard five field cron expression or descriptor such as @hourly
	Cron string `yaml:"cron" json:"cron"`

	// scan or download
	Kind string `yaml:"kind" json:"kind"`

	// Scan target, for scan schedules
	Target string `yaml:"target" json:"target"`

	// Files to fetch, for download schedules
	URLs []batchdownload.Entry `yaml:"urls" json:"urls"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// How often system gauges are refreshed
	UpdateInterval time.Duration `yaml:"update_interval" json:"update_interval"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	wc := worker.DefaultConfig()
	return &Config{
		Pipeline: PipelineConfig{
			PollInterval:    pipeline.DefaultConfig().PollInterval,
			KillGrace:       wc.KillGrace,
			ScanBufferBytes: wc.ScanBufferBytes,
			OutputTailLines: wc.OutputTailLines,
		},
		Nmap:     nmapscan.DefaultConfig(),
		Download: batchdownload.DefaultConfig(),
		API: APIConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EnableCORS:      true,
			CORSOrigins:     []string{"*"},
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:        true,
			UpdateInterval: 15 * time.Second,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// JSON is valid YAML, so one decoder covers both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Pipeline.PollInterval <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"poll interval must be positive", "pipeline.poll_interval", c.Pipeline.PollInterval)
	}
	if c.Pipeline.KillGrace < 0 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"kill grace must not be negative", "pipeline.kill_grace", c.Pipeline.KillGrace)
	}
	if c.Pipeline.ScanBufferBytes < 64 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"scan buffer must be at least 64 bytes", "pipeline.scan_buffer_bytes", c.Pipeline.ScanBufferBytes)
	}

	if err := c.Nmap.Validate(); err != nil {
		return err
	}
	if err := c.Download.Validate(); err != nil {
		return err
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"API port must be between 1 and 65535", "api.port", c.API.Port)
		}
		if c.API.Host == "" {
			return errors.ErrConfigMissing("api.host")
		}
	}

	names := make(map[string]struct{}, len(c.Schedules))
	for i, s := range c.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if _, dup := names[s.Name]; dup {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"duplicate schedule name", field+".name", s.Name)
		}
		names[s.Name] = struct{}{}
	}

	validLogLevels := []logging.LogLevel{logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError}
	if !slices.Contains(validLogLevels, c.Logging.Level) {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	if c.Logging.Format != logging.FormatText && c.Logging.Format != logging.FormatJSON {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

// Validate checks one schedule entry.
func (s ScheduleConfig) Validate() error {
	if s.Name == "" {
		return errors.ErrConfigMissing("name")
	}
	if _, err := cron.ParseStandard(s.Cron); err != nil {
		return errors.WrapConfigError(errors.CodeValidation, "invalid cron expression", err)
	}
	switch s.Kind {
	case tasks.KindScan:
		return nmapscan.ValidateTarget(s.Target)
	case tasks.KindDownload:
		return batchdownload.ValidateEntries(s.URLs)
	default:
		return errors.ErrConfigInvalid("kind", s.Kind)
	}
}

// PipelineConfig returns the controller settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Worker: worker.Config{
			KillGrace:       c.Pipeline.KillGrace,
			ScanBufferBytes: c.Pipeline.ScanBufferBytes,
			OutputTailLines: c.Pipeline.OutputTailLines,
		},
		PollInterval: c.Pipeline.PollInterval,
	}
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
