// Package cli provides the taskpipe command-line interface: foreground scan
// and download tasks with terminal progress, nmap report rendering, and the
// API server with its scheduler.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/taskpipe/internal/config"
	"github.com/anstrom/taskpipe/internal/logging"
)

const envPrefix = "TASKPIPE"

var (
	cfgFile string
	verbose bool

	appConfig *config.Config
	configErr error
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "taskpipe",
	Short: "Run external tools with live progress",
	Long: `taskpipe runs long external programs such as nmap and aria2c, parses
their output into progress updates and shows them on the terminal or streams
them to API clients. At most one task runs at a time.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./taskpipe.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	if err := viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind log-level flag: %v\n", err)
	}
}

// initConfig loads .env, the config file and TASKPIPE_* overrides.
func initConfig() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("taskpipe")
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	appConfig, configErr = loadConfig(viper.GetViper())
	initLogging()
}

// loadConfig reads the file viper found and applies environment and flag
// overrides for the settings that are commonly changed per host.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if s := v.GetString("logging.level"); s != "" {
		cfg.Logging.Level = logging.LogLevel(s)
	}
	if s := v.GetString("logging.format"); s != "" {
		cfg.Logging.Format = logging.LogFormat(s)
	}
	if s := v.GetString("nmap.binary"); s != "" {
		cfg.Nmap.Binary = s
	}
	if s := v.GetString("nmap.output_dir"); s != "" {
		cfg.Nmap.OutputDir = s
	}
	if s := v.GetString("download.binary"); s != "" {
		cfg.Download.Binary = s
	}
	if s := v.GetString("download.dir"); s != "" {
		cfg.Download.Dir = s
	}
	if s := v.GetString("api.host"); s != "" {
		cfg.API.Host = s
	}
	if n := v.GetInt("api.port"); n != 0 {
		cfg.API.Port = n
	}
}

// requireConfig returns the loaded configuration or the load error.
func requireConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	if appConfig == nil {
		return config.Default(), nil
	}
	return appConfig, nil
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging installs the default logger from the loaded configuration.
func initLogging() {
	if appConfig == nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := appConfig.Logging
	logConfig.AddSource = logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized",
			"level", logConfig.Level, "format", logConfig.Format)
	}
}
