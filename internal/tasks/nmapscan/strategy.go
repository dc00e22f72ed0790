// Package nmapscan runs an nmap scan as a pipeline task and reads the XML
// report it leaves behind.
package nmapscan

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/taskpipe/internal/command"
	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/tasks"
)

// Config holds the nmap invocation settings.
type Config struct {
	Binary       string        `yaml:"binary" validate:"required"`
	OutputDir    string        `yaml:"output_dir" validate:"required"`
	StatsEvery   time.Duration `yaml:"stats_every" validate:"gt=0"`
	Verbosity    int           `yaml:"verbosity" validate:"min=0,max=10"`
	Debugging    int           `yaml:"debugging" validate:"min=0,max=10"`
	Timing       int           `yaml:"timing" validate:"min=0,max=5"`
	Traceroute   bool          `yaml:"traceroute"`
	MaxScanDelay time.Duration `yaml:"max_scan_delay" validate:"min=0"`
	MaxRetries   int           `yaml:"max_retries" validate:"min=0"`
	MinRate      int           `yaml:"min_rate" validate:"min=0"`
	Ports        string        `yaml:"ports"`
}

// DefaultConfig returns an aggressive traceroute scan that reports progress
// twice a second.
func DefaultConfig() Config {
	return Config{
		Binary:       "nmap",
		OutputDir:    "/tmp",
		StatsEvery:   500 * time.Millisecond,
		Verbosity:    3,
		Debugging:    1,
		Timing:       int(nmap.TimingAggressive),
		Traceroute:   true,
		MaxScanDelay: 8 * time.Second,
		MaxRetries:   13,
		MinRate:      256,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WrapConfigError(errors.CodeValidation, "Invalid nmap configuration", err)
	}
	return nil
}

// Strategy scans one target.
type Strategy struct {
	tasks.Once

	target string
	cfg    Config
}

var _ tasks.Strategy = (*Strategy)(nil)

// New validates target and returns a scan strategy for it.
func New(target string, cfg Config) (*Strategy, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{target: target, cfg: cfg}, nil
}

// Kind implements tasks.Strategy.
func (s *Strategy) Kind() string { return tasks.KindScan }

// Target returns the scan target.
func (s *Strategy) Target() string { return s.target }

// OutputBase is the -oA stem nmap writes its .nmap, .gnmap and .xml files to.
func (s *Strategy) OutputBase() string {
	return filepath.Join(s.cfg.OutputDir, outputName(s.target))
}

// ReportPath returns the XML report written by the scan.
func (s *Strategy) ReportPath() string {
	return s.OutputBase() + ".xml"
}

// Pattern implements tasks.Strategy.
func (s *Strategy) Pattern() progress.Pattern { return NewPattern() }

// Command implements tasks.Strategy.
func (s *Strategy) Command() (command.Spec, error) {
	if err := s.Claim(s.Kind()); err != nil {
		return command.Spec{}, err
	}

	// The scanner is only used to render arguments; the pipeline worker runs
	// the process itself so it can stream progress.
	scanner, err := nmap.NewScanner(context.Background(), s.options()...)
	if err != nil {
		return command.Spec{}, errors.WrapTaskError(errors.CodeConfiguration, "Failed to build nmap command", err).
			WithContext("target", s.target)
	}

	return command.Spec{
		Program:     s.cfg.Binary,
		Args:        scanner.Args(),
		Streaming:   true,
		MergeStderr: true,
	}, nil
}

func (s *Strategy) options() []nmap.Option {
	opts := []nmap.Option{
		nmap.WithBinaryPath(s.cfg.Binary),
		nmap.WithTimingTemplate(nmap.Timing(s.cfg.Timing)),
	}
	if s.cfg.Traceroute {
		opts = append(opts, nmap.WithTraceRoute())
	}
	opts = append(opts,
		nmap.WithCustomArguments("-oA", s.OutputBase()),
		nmap.WithStatsEvery(fmt.Sprintf("%.3fs", s.cfg.StatsEvery.Seconds())),
	)
	if s.cfg.Verbosity > 0 {
		opts = append(opts, nmap.WithVerbosity(s.cfg.Verbosity))
	}
	if s.cfg.Debugging > 0 {
		opts = append(opts, nmap.WithDebugging(s.cfg.Debugging))
	}
	if s.cfg.MaxScanDelay > 0 {
		opts = append(opts, nmap.WithMaxScanDelay(s.cfg.MaxScanDelay))
	}
	if s.cfg.MaxRetries > 0 {
		opts = append(opts, nmap.WithMaxRetries(s.cfg.MaxRetries))
	}
	if s.cfg.MinRate > 0 {
		opts = append(opts, nmap.WithMinRate(s.cfg.MinRate))
	}
	if s.cfg.Ports != "" {
		opts = append(opts, nmap.WithPorts(s.cfg.Ports))
	}
	return append(opts, nmap.WithTargets(s.target))
}
