package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/taskpipe/internal/api"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/metrics"
	"github.com/anstrom/taskpipe/internal/observer"
	"github.com/anstrom/taskpipe/internal/pipeline"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/scheduler"
)

var (
	serveHost        string
	servePort        int
	serveNoSchedules bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the task scheduler",
	Long: `Serve the HTTP API for starting and canceling tasks, stream progress to
websocket clients and start the configured schedules. The server shares one
controller, so API requests and schedules never run two tasks at once.`,
	Example: `  taskpipe serve
  taskpipe serve --host 0.0.0.0 --port 9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoSchedules, "no-schedules", false, "do not start configured schedules")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort != 0 {
		cfg.API.Port = servePort
	}

	logger := logging.Default()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pm *metrics.PrometheusMetrics
	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Enabled {
		pm = metrics.NewPrometheusMetrics()
		recorder = pm
	}

	hub := api.NewHub(logger)
	ctrl := pipeline.NewController(cfg.PipelineConfig(),
		pipeline.WithLogger(logger),
		pipeline.WithRecorder(recorder),
		pipeline.WithFinishHook(hub.TaskFinished))

	server := api.New(cfg, ctrl, hub, pm, logger)

	sched := scheduler.New(ctrl,
		scheduler.Strategies(cfg.Nmap, cfg.Download),
		progress.Multi(hub, observer.NewLog(logger)),
		logger)
	if !serveNoSchedules {
		for _, sc := range cfg.Schedules {
			if err := sched.AddJob(sc); err != nil {
				return err
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.API.Enabled {
		g.Go(func() error {
			return server.Start(gctx)
		})
	} else {
		logger.Warn("API server disabled, running schedules only")
	}
	g.Go(func() error {
		if err := sched.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	if pm != nil {
		g.Go(func() error {
			pm.StartPeriodicUpdates(gctx, cfg.Metrics.UpdateInterval)
			return nil
		})
	}

	logger.InfoServer("taskpipe server running", "address", cfg.GetAPIAddress(),
		"schedules", len(sched.Jobs()), "metrics", cfg.Metrics.Enabled)

	err = g.Wait()
	if err != nil {
		logger.ErrorServer("Server stopped with error", err)
	}
	if cerr := ctrl.Cancel(); cerr == nil {
		_, _ = ctrl.Wait(context.Background())
	}
	return err
}
