// Package worker runs one external process per task instance on its own
// goroutine, turning its output into progress messages.
package worker

import (
	goerrors "errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/taskpipe/internal/command"
	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/progress"
)

// Default worker settings.
const (
	DefaultKillGrace       = 2 * time.Second
	DefaultScanBufferBytes = 1024 * 1024
	DefaultOutputTailLines = 50
)

// Config holds worker settings.
type Config struct {
	// KillGrace is the delay between SIGTERM and the follow-up SIGKILL on
	// cancellation. Zero sends both back to back.
	KillGrace       time.Duration
	ScanBufferBytes int
	OutputTailLines int
}

// DefaultConfig returns the default worker settings.
func DefaultConfig() Config {
	return Config{
		KillGrace:       DefaultKillGrace,
		ScanBufferBytes: DefaultScanBufferBytes,
		OutputTailLines: DefaultOutputTailLines,
	}
}

// Worker launches and monitors a single external process. It is single use:
// Start may be called once.
type Worker struct {
	cfg    Config
	ch     *progress.Channel
	logger *logging.Logger

	mu       sync.Mutex
	started  bool
	canceled bool
	exited   bool
	// reaped is set as soon as Wait returns; the process group may be
	// reused after that.
	reaped bool
	cmd    *exec.Cmd

	alive   atomic.Bool
	done    chan struct{}
	outcome Outcome
}

// New creates a worker that publishes progress on ch.
func New(ch *progress.Channel, cfg Config, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ScanBufferBytes <= 0 {
		cfg.ScanBufferBytes = DefaultScanBufferBytes
	}
	return &Worker{
		cfg:    cfg,
		ch:     ch,
		logger: logger.WithComponent("worker"),
		done:   make(chan struct{}),
	}
}

// Start validates spec and begins running it in the background. Errors are
// returned only for misuse; a program that fails to launch is reported
// through Outcome once Done is closed.
func (w *Worker) Start(spec command.Spec, pattern progress.Pattern) error {
	if pattern == nil {
		return errors.NewTaskError(errors.CodeValidation, "Progress pattern is required")
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.NewTaskError(errors.CodeInvalidState, "Worker already started").
			WithContext("program", spec.Program)
	}
	w.started = true
	w.alive.Store(true)

	go w.run(spec.Clone(), pattern)
	return nil
}

// IsAlive reports whether the worker goroutine is still running.
func (w *Worker) IsAlive() bool {
	return w.alive.Load()
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Outcome returns the result of the run. It is only complete after Done.
func (w *Worker) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Failed reports whether the finished run failed to launch or exited with a
// rejected code. It is false while the process is running.
func (w *Worker) Failed() bool {
	return w.Outcome().Failed()
}

// Cancel terminates the process group: SIGTERM first, then SIGKILL after
// the kill grace. It clears the worker's process handle. Calling Cancel on a
// worker that was never started, has exited, or was already canceled does
// nothing.
func (w *Worker) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.canceled || w.exited {
		return
	}
	w.canceled = true

	if w.cmd == nil || w.cmd.Process == nil {
		// Not launched yet; run observes the flag before starting.
		return
	}
	proc := w.cmd.Process
	w.cmd = nil

	if err := terminate(proc); err != nil {
		w.logger.Debug("Failed to send termination signal", "pid", proc.Pid, "error", err)
	}
	if w.cfg.KillGrace <= 0 {
		_ = kill(proc)
		return
	}
	time.AfterFunc(w.cfg.KillGrace, func() {
		w.killUnreaped(proc)
	})
}

// killUnreaped sends SIGKILL unless the process has already been reaped. It
// reports whether the signal was sent.
func (w *Worker) killUnreaped(proc *os.Process) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reaped {
		return false
	}
	_ = kill(proc)
	return true
}

func (w *Worker) run(spec command.Spec, pattern progress.Pattern) {
	started := time.Now()
	var outcome Outcome
	defer func() {
		outcome.Duration = time.Since(started)
		w.mu.Lock()
		w.exited = true
		w.cmd = nil
		w.outcome = outcome
		w.mu.Unlock()
		w.alive.Store(false)
		close(w.done)
	}()

	log := w.logger.WithFields("program", spec.Program)

	cmd := exec.Command(spec.Program, spec.Argv()...) // #nosec G204 - argv is built from a validated spec
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		outcome.ExitCode = -1
		outcome.Err = errors.ErrLaunchFailed(spec.Program, err)
		log.Error("Failed to create output pipe", "error", err)
		return
	}
	defer pr.Close()

	out := newTail(w.cfg.OutputTailLines)
	stderr := &tailWriter{tail: newTail(w.cfg.OutputTailLines)}
	cmd.Stdout = pw
	if spec.MergeStderr {
		cmd.Stderr = pw
	} else {
		cmd.Stderr = stderr
	}

	w.mu.Lock()
	if w.canceled {
		w.mu.Unlock()
		_ = pw.Close()
		outcome.Canceled = true
		outcome.ExitCode = -1
		outcome.Err = errors.ErrCanceled(spec.Program)
		log.Info("Task canceled before launch")
		return
	}
	if err := cmd.Start(); err != nil {
		w.mu.Unlock()
		_ = pw.Close()
		outcome.ExitCode = -1
		outcome.Err = errors.ErrLaunchFailed(spec.Program, err)
		log.Error("Failed to launch external program", "error", err, "command", spec.CommandLine())
		return
	}
	w.cmd = cmd
	w.mu.Unlock()

	// The child holds its own copy of the write end.
	_ = pw.Close()
	log.Debug("Process started", "pid", cmd.Process.Pid, "command", spec.CommandLine())

	lines := newLineScanner(pr, w.cfg.ScanBufferBytes)
	var buffered []string
	for {
		line, ok := lines.Next()
		if !ok {
			break
		}
		outcome.Lines++
		out.add(line)
		if !spec.Streaming {
			buffered = append(buffered, line)
			continue
		}
		msg, matched := pattern.Match(line)
		if !matched {
			log.Debug("Unmatched output line", "line", line)
			continue
		}
		if w.ch.Put(msg) {
			outcome.Messages++
		}
	}
	if err := lines.Err(); err != nil {
		log.Warn("Output read error", "error", err)
	}
	outcome.Ignored = lines.Ignored()

	waitErr := cmd.Wait()
	w.mu.Lock()
	w.reaped = true
	w.mu.Unlock()
	outcome.ExitCode = cmd.ProcessState.ExitCode()
	stderr.flush()
	outcome.OutputTail = append(out.snapshot(), stderr.tail.snapshot()...)

	if !spec.Streaming {
		outcome.Messages = progress.Feed(pattern, buffered, w.ch)
	}

	w.mu.Lock()
	canceled := w.canceled
	w.mu.Unlock()

	switch {
	case canceled:
		outcome.Canceled = true
		outcome.Err = errors.ErrCanceled(spec.Program)
		log.Info("Task canceled", "exit_code", outcome.ExitCode)
	case waitErr != nil && !isAcceptedExit(waitErr, spec, outcome.ExitCode):
		outcome.Err = errors.ErrProcessFailed(spec.Program, outcome.ExitCode, outcome.OutputTail, waitErr)
		log.Error("External program failed",
			"exit_code", outcome.ExitCode,
			"error", waitErr,
			"output", outcome.OutputTail)
	default:
		log.Debug("Process exited",
			"exit_code", outcome.ExitCode,
			"messages", outcome.Messages,
			"lines", outcome.Lines)
	}
}

func isAcceptedExit(waitErr error, spec command.Spec, code int) bool {
	var exitErr *exec.ExitError
	if !goerrors.As(waitErr, &exitErr) {
		return false
	}
	return code >= 0 && spec.Accepts(code)
}
