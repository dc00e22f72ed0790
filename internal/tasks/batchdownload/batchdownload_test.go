package batchdownload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/tasks"
)

func testEntries() []Entry {
	return []Entry{
		{URL: "https://example.com/files/a.bin", Name: "a.bin"},
		{URL: "https://example.com/files/b.bin", Name: "b.bin"},
	}
}

func newTestStrategy(t *testing.T, entries []Entry) *Strategy {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	s, err := New(entries, cfg)
	require.NoError(t, err)
	return s
}

func TestPatternCountsCompletions(t *testing.T) {
	s := newTestStrategy(t, testEntries())

	ch := progress.NewChannel()
	n := progress.Feed(s.Pattern(), []string{
		"[#1 SIZE:0B/0B]",
		"Download complete: /tmp/a.bin",
		"Download complete: /tmp/b.bin",
	}, ch)
	require.Equal(t, 2, n)

	msgs := ch.TryTakeAll()
	require.Len(t, msgs, 2)
	assert.Equal(t, float64(1), msgs[0].Value)
	assert.Equal(t, float64(2), msgs[0].Maximum)
	assert.Equal(t, "Download complete: /tmp/a.bin", msgs[0].Status)
	assert.Equal(t, "/tmp/a.bin", msgs[0].Field("path"))
	assert.Equal(t, float64(2), msgs[1].Value)
	assert.Equal(t, float64(2), msgs[1].Maximum)

	assert.Equal(t, []string{"/tmp/a.bin", "/tmp/b.bin"}, s.Paths())
}

func TestCommandWritesInputFile(t *testing.T) {
	s := newTestStrategy(t, testEntries())
	assert.Equal(t, tasks.KindDownload, s.Kind())

	spec, err := s.Command()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Cleanup() })

	assert.Equal(t, "aria2c", spec.Program)
	assert.True(t, spec.Streaming)
	assert.True(t, spec.MergeStderr)
	assert.True(t, spec.Accepts(1))
	assert.NoError(t, spec.Validate())

	argv := spec.Argv()
	assert.Contains(t, argv, "--no-conf")
	assert.Contains(t, argv, "--timeout=30")
	assert.Contains(t, argv, "--input-file="+s.InputFile())
	assert.Contains(t, argv, "--dir="+s.Dir())
	assert.Contains(t, argv, "--max-download-result=2")
	assert.NotContains(t, argv, "--auto-file-renaming")

	data, err := os.ReadFile(s.InputFile())
	require.NoError(t, err)
	assert.Equal(t,
		"https://example.com/files/a.bin\n out=a.bin\nhttps://example.com/files/b.bin\n out=b.bin\n",
		string(data))

	_, err = s.Command()
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
}

func TestCommandSkipsRecentDownloads(t *testing.T) {
	s := newTestStrategy(t, testEntries())
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "a.bin"), []byte("done"), 0o600))

	_, err := s.Command()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Cleanup() })

	assert.Equal(t, 1, s.Skipped())
	data, err := os.ReadFile(s.InputFile())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "a.bin")
	assert.Contains(t, string(data), "out=b.bin")

	msg, ok := s.Pattern().Match("Download complete: " + filepath.Join(s.Dir(), "b.bin"))
	require.True(t, ok)
	assert.Equal(t, float64(2), msg.Value)
	assert.Equal(t, float64(2), msg.Maximum)
	assert.Len(t, s.Paths(), 2)
}

func TestCommandRedownloadsStaleFiles(t *testing.T) {
	s := newTestStrategy(t, testEntries())
	stale := filepath.Join(s.Dir(), "a.bin")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	_, err := s.Command()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Cleanup() })

	assert.Equal(t, 0, s.Skipped())
}

func TestCleanupRemovesInputFile(t *testing.T) {
	s := newTestStrategy(t, testEntries())
	assert.NoError(t, s.Cleanup())

	_, err := s.Command()
	require.NoError(t, err)
	path := s.InputFile()
	require.FileExists(t, path)

	require.NoError(t, s.Cleanup())
	assert.NoFileExists(t, path)
}

func TestValidateEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantErr bool
	}{
		{"valid", testEntries(), false},
		{"empty", nil, true},
		{"bad url", []Entry{{URL: "not a url", Name: "x"}}, true},
		{"missing name", []Entry{{URL: "https://example.com/x"}}, true},
		{"path in name", []Entry{{URL: "https://example.com/x", Name: "../x"}}, true},
		{"duplicate name", []Entry{
			{URL: "https://example.com/1/x", Name: "x"},
			{URL: "https://example.com/2/x", Name: "x"},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntries(tt.entries)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.CodeValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseInputFile(t *testing.T) {
	input := `# packages
https://example.com/dl/tool-1.0.tar.gz

https://example.com/dl/latest   tool-latest.tar.gz
`
	entries, err := ParseInputFile(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{URL: "https://example.com/dl/tool-1.0.tar.gz", Name: "tool-1.0.tar.gz"},
		{URL: "https://example.com/dl/latest", Name: "tool-latest.tar.gz"},
	}, entries)

	_, err = ParseInputFile(strings.NewReader("https://example.com/a b c\n"))
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}
