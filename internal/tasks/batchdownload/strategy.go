// Package batchdownload runs a parallel aria2c download as a pipeline task.
// Files already present in the download directory and younger than the
// configured age are skipped and counted as complete.
package batchdownload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/taskpipe/internal/command"
	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/tasks"
)

const statParallelism = 8

// Config holds the aria2c invocation settings.
type Config struct {
	Binary string `yaml:"binary" validate:"required"`
	// Dir is the download directory. Empty means the system temp directory.
	Dir               string         `yaml:"dir"`
	MaxAge            time.Duration  `yaml:"max_age" validate:"min=0"`
	Options           map[string]any `yaml:"options"`
	AcceptedExitCodes []int          `yaml:"accepted_exit_codes" validate:"dive,min=1,max=255"`
}

// DefaultOptions returns the aria2c options used for every run.
func DefaultOptions() map[string]any {
	return map[string]any{
		"no-conf":                   true,
		"timeout":                   30,
		"summary-interval":          2,
		"max-connection-per-server": 1,
		"connect-timeout":           30,
		"max-tries":                 16,
		"max-file-not-found":        4,
		"max-resume-failure-tries":  4,
		"retry-wait":                8,
		"deferred-input":            true,
		"max-concurrent-downloads":  33,
		"enable-mmap":               true,
		"auto-file-renaming":        false,
		"allow-overwrite":           true,
		"async-dns":                 true,
		"conditional-get":           true,
		"remote-time":               true,
		"http-accept-gzip":          true,
		"enable-http-pipelining":    true,
		"enable-http-keep-alive":    false,
	}
}

// DefaultConfig returns the default download settings. aria2c exits with 1
// when some downloads failed, which still counts as a finished run.
func DefaultConfig() Config {
	return Config{
		Binary:            "aria2c",
		MaxAge:            24 * time.Hour,
		Options:           DefaultOptions(),
		AcceptedExitCodes: []int{1},
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WrapConfigError(errors.CodeValidation, "Invalid download configuration", err)
	}
	return nil
}

// Strategy downloads a batch of files.
type Strategy struct {
	tasks.Once

	entries []Entry
	cfg     Config
	dir     string
	now     func() time.Time

	mu        sync.Mutex
	inputFile string
	skipped   int
	paths     []string
}

var _ tasks.Strategy = (*Strategy)(nil)

// New validates entries and returns a download strategy for them.
func New(entries []Entry, cfg Config) (*Strategy, error) {
	if err := ValidateEntries(entries); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir := cfg.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	return &Strategy{
		entries: slices.Clone(entries),
		cfg:     cfg,
		dir:     dir,
		now:     time.Now,
	}, nil
}

// Kind implements tasks.Strategy.
func (s *Strategy) Kind() string { return tasks.KindDownload }

// Dir returns the download directory.
func (s *Strategy) Dir() string { return s.dir }

// Total returns the number of entries including skipped ones.
func (s *Strategy) Total() int { return len(s.entries) }

// Skipped returns how many entries were already present when the command
// was built.
func (s *Strategy) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// InputFile returns the aria2c input file written by Command.
func (s *Strategy) InputFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputFile
}

// Paths returns the completed files: skipped ones first, then the ones
// aria2c reported in completion order.
func (s *Strategy) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.paths)
}

// Cleanup removes the input file.
func (s *Strategy) Cleanup() error {
	path := s.InputFile()
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove input file: %w", err)
	}
	return nil
}

// Command implements tasks.Strategy. It writes the aria2c input file for
// every entry without a recent download.
func (s *Strategy) Command() (command.Spec, error) {
	if err := s.Claim(s.Kind()); err != nil {
		return command.Spec{}, err
	}

	recent, err := s.findRecent(context.Background())
	if err != nil {
		return command.Spec{}, err
	}

	var input strings.Builder
	var skipped []string
	for i, e := range s.entries {
		if recent[i] {
			skipped = append(skipped, filepath.Join(s.dir, e.Name))
			continue
		}
		input.WriteString(e.inputEntry())
	}

	inputFile := filepath.Join(s.dir, "taskpipe-"+uuid.NewString()+".aria2")
	if err := os.WriteFile(inputFile, []byte(input.String()), 0o600); err != nil {
		return command.Spec{}, errors.WrapTaskError(errors.CodeConfiguration, "Failed to write aria2c input file", err).
			WithContext("path", inputFile)
	}

	s.mu.Lock()
	s.inputFile = inputFile
	s.skipped = len(skipped)
	s.paths = skipped
	s.mu.Unlock()

	return command.Spec{
		Program:           s.cfg.Binary,
		Options:           s.options(inputFile),
		AcceptedExitCodes: s.cfg.AcceptedExitCodes,
		Streaming:         true,
		MergeStderr:       true,
		OptionStyle:       command.OptionStyleJoined,
	}, nil
}

func (s *Strategy) options(inputFile string) []command.Option {
	keys := make([]string, 0, len(s.cfg.Options))
	for k := range s.cfg.Options {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	opts := make([]command.Option, 0, len(keys)+3)
	for _, k := range keys {
		opts = append(opts, command.Option{Key: k, Value: s.cfg.Options[k]})
	}
	return append(opts,
		command.Option{Key: "input-file", Value: inputFile},
		command.Option{Key: "dir", Value: s.dir},
		command.Option{Key: "max-download-result", Value: len(s.entries)},
	)
}

// findRecent stats the target file of every entry.
func (s *Strategy) findRecent(ctx context.Context) ([]bool, error) {
	recent := make([]bool, len(s.entries))
	if s.cfg.MaxAge <= 0 {
		return recent, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statParallelism)
	now := s.now()
	for i, e := range s.entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := os.Stat(filepath.Join(s.dir, e.Name))
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return errors.WrapTaskError(errors.CodeUnknown, "Failed to check existing download", err).
					WithContext("name", e.Name)
			}
			recent[i] = info.Mode().IsRegular() && now.Sub(info.ModTime()) < s.cfg.MaxAge
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return recent, nil
}

// Pattern implements tasks.Strategy. The completion counter starts at the
// number of skipped entries.
func (s *Strategy) Pattern() progress.Pattern {
	return progress.MustRegexPattern(completeExpr, func(groups map[string]string) (progress.Message, bool) {
		path := strings.TrimSpace(groups["path"])
		if path == "" {
			return progress.Message{}, false
		}
		s.mu.Lock()
		s.paths = append(s.paths, path)
		completed := len(s.paths)
		s.mu.Unlock()

		return progress.Message{
			Status:  "Download complete: " + path,
			Value:   float64(completed),
			Maximum: float64(len(s.entries)),
			Fields:  map[string]string{"path": path},
		}, true
	})
}

const completeExpr = `Download complete:\s+(?P<path>.*)$`
