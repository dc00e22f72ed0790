package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/tasks/batchdownload"
)

var (
	fetchInput string
	fetchDir   string
	fetchForce bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url [name]]...",
	Short: "Download a batch of files with aria2c",
	Long: `Download a batch of URLs with aria2c and show overall progress.
Entries come from the arguments or from an input file with one "url [name]"
per line. Files downloaded within the configured max age are skipped.`,
	Example: `  taskpipe fetch https://example.com/a.iso
  taskpipe fetch --input urls.txt --dir ./downloads`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&fetchInput, "input", "i", "", `file with one "url [name]" per line ("-" for stdin)`)
	fetchCmd.Flags().StringVar(&fetchDir, "dir", "", "download directory (default from config)")
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "download files even when a recent copy exists")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	entries, err := fetchEntries(args)
	if err != nil {
		return err
	}

	downloadCfg := cfg.Download
	if fetchDir != "" {
		downloadCfg.Dir = fetchDir
	}
	if fetchForce {
		downloadCfg.MaxAge = 0
	}

	strategy, err := batchdownload.New(entries, downloadCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := strategy.Cleanup(); err != nil {
			logging.Warn("Failed to remove aria2c input file", "error", err)
		}
	}()

	result, err := runForeground(cmd.Context(), cfg, strategy, terminalFor(os.Stdout))
	if skipped := strategy.Skipped(); skipped > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "Skipped %d recent download(s)\n", skipped)
	}
	for _, path := range strategy.Paths() {
		_, _ = fmt.Fprintln(os.Stdout, path)
	}
	if err != nil && result.Failed {
		printTail(os.Stderr, result)
	}
	return err
}

// fetchEntries reads entries from --input, or from the arguments when no
// input file is given. Each argument is a URL, optionally followed by a name
// when the name does not look like a URL.
func fetchEntries(args []string) ([]batchdownload.Entry, error) {
	if fetchInput != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("URL arguments cannot be combined with --input")
		}
		var r io.Reader = os.Stdin
		if fetchInput != "-" {
			f, err := os.Open(fetchInput)
			if err != nil {
				return nil, fmt.Errorf("failed to open input file: %w", err)
			}
			defer func() { _ = f.Close() }()
			r = f
		}
		return batchdownload.ParseInputFile(r)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no URLs given, pass them as arguments or use --input")
	}
	return batchdownload.ParseInputFile(strings.NewReader(argsToLines(args)))
}

func argsToLines(args []string) string {
	var b strings.Builder
	for i := 0; i < len(args); i++ {
		b.WriteString(args[i])
		if i+1 < len(args) && !strings.Contains(args[i+1], "://") {
			b.WriteString(" " + args[i+1])
			i++
		}
		b.WriteString("\n")
	}
	return b.String()
}
