package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/taskpipe/internal/config"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/pipeline"
	"github.com/anstrom/taskpipe/internal/tasks/batchdownload"
	"github.com/anstrom/taskpipe/internal/tasks/nmapscan"
)

func TestArgsToLines(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "single url",
			args: []string{"https://a.example/x.iso"},
			want: "https://a.example/x.iso\n",
		},
		{
			name: "url with name",
			args: []string{"https://a.example/x.iso", "y.iso"},
			want: "https://a.example/x.iso y.iso\n",
		},
		{
			name: "mixed",
			args: []string{"https://a.example/1", "one.bin", "https://a.example/2", "https://a.example/3", "three"},
			want: "https://a.example/1 one.bin\nhttps://a.example/2\nhttps://a.example/3 three\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, argsToLines(tt.args))
		})
	}
}

func TestFetchEntries(t *testing.T) {
	defer func() { fetchInput = "" }()

	fetchInput = ""
	entries, err := fetchEntries([]string{"https://a.example/files/x.iso"})
	require.NoError(t, err)
	assert.Equal(t, []batchdownload.Entry{{URL: "https://a.example/files/x.iso", Name: "x.iso"}}, entries)

	_, err = fetchEntries(nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("# mirrors\nhttps://a.example/1 one\n\nhttps://a.example/2 two\n"), 0o600))
	fetchInput = path
	entries, err = fetchEntries(nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[1].Name)

	_, err = fetchEntries([]string{"https://a.example/3"})
	assert.Error(t, err, "arguments and --input are exclusive")
}

func TestPrintReport(t *testing.T) {
	report := &nmapscan.Report{
		Up:    1,
		Down:  1,
		Total: 2,
		Hosts: []nmapscan.Host{{
			Addresses: []string{"192.168.1.10"},
			Hostnames: []string{"printer.lan"},
			Ports: []nmapscan.Port{
				{ID: 22, Protocol: "tcp", State: "open"},
				{ID: 80, Protocol: "tcp", State: "closed"},
				{ID: 631, Protocol: "tcp", State: "open"},
			},
			Hops: []nmapscan.Hop{{Index: 0, Addr: "192.168.1.10", RTTMs: 0.42}},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, report))
	out := buf.String()
	assert.Contains(t, out, "1 of 2 hosts up")
	assert.Contains(t, out, "192.168.1.10")
	assert.Contains(t, out, "printer.lan")
	assert.Contains(t, out, "22,631")

	buf.Reset()
	require.NoError(t, printHops(&buf, report))
	assert.Contains(t, buf.String(), "0.42")
}

func TestPrintReportNoHosts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, &nmapscan.Report{Total: 4, Down: 4}))
	assert.Equal(t, "0 of 4 hosts up\n", buf.String())
}

func TestFormatPorts(t *testing.T) {
	assert.Equal(t, "-", formatPorts(nil))
	assert.Equal(t, "443", formatPorts([]uint16{443}))
	assert.Equal(t, "22,80", formatPorts([]uint16{22, 80}))
}

func TestScanConfigFlags(t *testing.T) {
	defer func() { scanNoTraceroute = false }()

	base := nmapscan.DefaultConfig()
	require.NoError(t, scanCmd.Flags().Set("ports", "22,80"))
	require.NoError(t, scanCmd.Flags().Set("timing", "2"))
	require.NoError(t, scanCmd.Flags().Set("stats-every", "2s"))
	require.NoError(t, scanCmd.Flags().Set("no-traceroute", "true"))

	cfg := scanConfig(base, scanCmd)
	assert.Equal(t, "22,80", cfg.Ports)
	assert.Equal(t, 2, cfg.Timing)
	assert.Equal(t, 2*time.Second, cfg.StatsEvery)
	assert.False(t, cfg.Traceroute)
	assert.Equal(t, base.OutputDir, cfg.OutputDir)
	assert.True(t, base.Traceroute, "base config is not modified")
}

func TestApplyOverrides(t *testing.T) {
	v := viper.New()
	v.Set("logging.level", "debug")
	v.Set("nmap.binary", "/opt/nmap/bin/nmap")
	v.Set("download.dir", "/srv/downloads")
	v.Set("api.port", 9090)

	cfg := config.Default()
	applyOverrides(cfg, v)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, "/opt/nmap/bin/nmap", cfg.Nmap.Binary)
	assert.Equal(t, "/srv/downloads", cfg.Download.Dir)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "aria2c", cfg.Download.Binary)
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	v := viper.New()
	v.Set("logging.level", "loud")
	_, err := loadConfig(v)
	assert.Error(t, err)
}

func TestResultError(t *testing.T) {
	tests := []struct {
		name    string
		result  pipeline.Result
		wantErr string
	}{
		{name: "success", result: pipeline.Result{Kind: "scan"}},
		{name: "canceled", result: pipeline.Result{Kind: "scan", Canceled: true}, wantErr: "scan task canceled"},
		{
			name:    "failed with error",
			result:  pipeline.Result{Kind: "download", Failed: true, Error: "exit status 3"},
			wantErr: "download task failed: exit status 3",
		},
		{
			name:    "failed with exit code",
			result:  pipeline.Result{Kind: "download", Failed: true, ExitCode: 7},
			wantErr: "download task failed with exit code 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := resultError(tt.result)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"scan", "fetch", "report", "serve"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
