package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/tasks"
	"github.com/anstrom/taskpipe/internal/tasks/batchdownload"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
	}{
		{
			name: "valid yaml config",
			file: "config.yaml",
			content: `
pipeline:
  poll_interval: 100ms
  kill_grace: 0s
nmap:
  output_dir: /var/tmp/scans
  min_rate: 512
download:
  max_age: 12h
  options:
    timeout: 60
schedules:
  - name: nightly
    cron: "0 2 * * *"
    kind: scan
    target: 10.0.0.0/24
`,
		},
		{
			name:    "valid json config",
			file:    "config.json",
			content: `{"api": {"port": 9090}, "logging": {"level": "debug", "format": "json"}}`,
		},
		{
			name:    "invalid yaml syntax",
			file:    "config.yaml",
			content: "pipeline: [unclosed",
			wantErr: true,
		},
		{
			name:    "invalid log level",
			file:    "config.yaml",
			content: "logging:\n  level: loud\n",
			wantErr: true,
		},
		{
			name:    "invalid port",
			file:    "config.yaml",
			content: "api:\n  port: 70000\n",
			wantErr: true,
		},
		{
			name:    "bad cron",
			file:    "config.yaml",
			content: "schedules:\n  - name: x\n    cron: \"every day\"\n    kind: scan\n    target: 10.0.0.1\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, cfg)
		})
	}
}

func TestLoadMergesWithDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
pipeline:
  poll_interval: 100ms
nmap:
  min_rate: 512
download:
  options:
    timeout: 60
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.KillGrace)
	assert.Equal(t, 512, cfg.Nmap.MinRate)
	assert.Equal(t, 13, cfg.Nmap.MaxRetries)
	assert.Equal(t, 60, cfg.Download.Options["timeout"])
	assert.Equal(t, true, cfg.Download.Options["no-conf"])
	assert.Equal(t, []int{1}, cfg.Download.AcceptedExitCodes)

	pc := cfg.PipelineConfig()
	assert.Equal(t, 100*time.Millisecond, pc.PollInterval)
	assert.Equal(t, 2*time.Second, pc.Worker.KillGrace)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.API.Port = 9191
	cfg.Schedules = []ScheduleConfig{{
		Name: "mirror",
		Cron: "@hourly",
		Kind: tasks.KindDownload,
		URLs: []batchdownload.Entry{{URL: "https://example.com/a.bin", Name: "a.bin"}},
	}}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, loaded.API.Port)
	assert.Equal(t, cfg.Schedules, loaded.Schedules)
	assert.Equal(t, cfg.Nmap, loaded.Nmap)
	assert.Equal(t, "127.0.0.1:9191", loaded.GetAPIAddress())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		code   errors.ErrorCode
	}{
		{"zero poll interval", func(c *Config) { c.Pipeline.PollInterval = 0 }, errors.CodeValidation},
		{"tiny scan buffer", func(c *Config) { c.Pipeline.ScanBufferBytes = 8 }, errors.CodeValidation},
		{"missing api host", func(c *Config) { c.API.Host = "" }, errors.CodeConfiguration},
		{"bad nmap timing", func(c *Config) { c.Nmap.Timing = 9 }, errors.CodeValidation},
		{"missing aria2 binary", func(c *Config) { c.Download.Binary = "" }, errors.CodeValidation},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, errors.CodeValidation},
		{"unknown schedule kind", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "x", Cron: "@daily", Kind: "ping"}}
		}, errors.CodeValidation},
		{"scan schedule without target", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "x", Cron: "@daily", Kind: tasks.KindScan}}
		}, errors.CodeValidation},
		{"duplicate schedule", func(c *Config) {
			s := ScheduleConfig{Name: "x", Cron: "@daily", Kind: tasks.KindScan, Target: "10.0.0.1"}
			c.Schedules = []ScheduleConfig{s, s}
		}, errors.CodeValidation},
	}

	assert.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}

	cfg := Default()
	cfg.API.Enabled = false
	cfg.API.Port = 0
	assert.NoError(t, cfg.Validate())
}
