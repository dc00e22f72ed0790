package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/anstrom/taskpipe/internal/config"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/metrics"
	"github.com/anstrom/taskpipe/internal/observer"
	"github.com/anstrom/taskpipe/internal/pipeline"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/tasks"
)

// terminalFor returns a terminal observer that redraws a single line when
// out is a terminal.
func terminalFor(out *os.File) *observer.Terminal {
	tty := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	return observer.NewTerminal(out, observer.TerminalConfig{Interactive: tty, Color: tty})
}

// runForeground starts strategy on a fresh controller and waits for it.
// SIGINT and SIGTERM cancel the task. A failed task is reported as an error.
func runForeground(ctx context.Context, cfg *config.Config, strategy tasks.Strategy, obs progress.Observer) (pipeline.Result, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := pipeline.NewController(cfg.PipelineConfig(),
		pipeline.WithLogger(logging.Default()),
		pipeline.WithRecorder(metrics.Nop{}))

	if _, err := ctrl.Start(ctx, strategy, obs); err != nil {
		return pipeline.Result{}, err
	}

	// The task itself watches ctx, so Wait only needs the parent context.
	result, err := ctrl.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return result, err
	}
	return result, resultError(result)
}

func resultError(result pipeline.Result) error {
	switch {
	case result.Canceled:
		return fmt.Errorf("%s task canceled", result.Kind)
	case result.Failed && result.Error != "":
		return fmt.Errorf("%s task failed: %s", result.Kind, result.Error)
	case result.Failed:
		return fmt.Errorf("%s task failed with exit code %d", result.Kind, result.ExitCode)
	}
	return nil
}

func printTail(w io.Writer, result pipeline.Result) {
	if len(result.Outcome.OutputTail) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Last output:")
	for _, line := range result.Outcome.OutputTail {
		_, _ = fmt.Fprintln(w, "  "+line)
	}
}
