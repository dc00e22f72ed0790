package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/taskpipe/internal/tasks/nmapscan"
)

var (
	scanPorts        string
	scanTiming       int
	scanOutputDir    string
	scanNoTraceroute bool
	scanStatsEvery   time.Duration
	scanNoReport     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Run an nmap scan with live progress",
	Long: `Run nmap against a single target (IP address, CIDR block, IPv4 range
or hostname) and show its progress. When the scan finishes the discovered
hosts are printed from the XML report.`,
	Example: `  taskpipe scan 192.168.1.0/24
  taskpipe scan 10.0.0.1-20 --ports 22,80,443
  taskpipe scan example.com --timing 3 --no-traceroute`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanPorts, "ports", "", "ports to scan, e.g. 22,80,443 or 1-1000 (default: nmap's top ports)")
	scanCmd.Flags().IntVar(&scanTiming, "timing", -1, "timing template 0-5 (default from config)")
	scanCmd.Flags().StringVar(&scanOutputDir, "output-dir", "", "directory for nmap's output files (default from config)")
	scanCmd.Flags().BoolVar(&scanNoTraceroute, "no-traceroute", false, "skip the traceroute")
	scanCmd.Flags().DurationVar(&scanStatsEvery, "stats-every", 0, "progress report interval (default from config)")
	scanCmd.Flags().BoolVar(&scanNoReport, "no-report", false, "do not print the host table when done")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	nmapCfg := scanConfig(cfg.Nmap, cmd)
	strategy, err := nmapscan.New(args[0], nmapCfg)
	if err != nil {
		return err
	}

	result, err := runForeground(cmd.Context(), cfg, strategy, terminalFor(os.Stdout))
	if err != nil {
		if result.Failed {
			printTail(os.Stderr, result)
		}
		return err
	}
	if scanNoReport {
		return nil
	}

	report, err := nmapscan.ParseReport(strategy.ReportPath())
	if err != nil {
		return err
	}
	return printReport(os.Stdout, report)
}

// scanConfig applies the flags that were set on top of base.
func scanConfig(base nmapscan.Config, cmd *cobra.Command) nmapscan.Config {
	cfg := base
	flags := cmd.Flags()
	if flags.Changed("ports") {
		cfg.Ports = scanPorts
	}
	if flags.Changed("timing") {
		cfg.Timing = scanTiming
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = scanOutputDir
	}
	if scanNoTraceroute {
		cfg.Traceroute = false
	}
	if flags.Changed("stats-every") {
		cfg.StatsEvery = scanStatsEvery
	}
	return cfg
}
