// Package pipeline wires a worker, a channel and a consumer into one task
// instance and enforces the task state machine: at most one running task per
// controller, cancellation that leaves nothing pending, single-use instances.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/taskpipe/internal/consumer"
	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/metrics"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/tasks"
	"github.com/anstrom/taskpipe/internal/worker"
)

// Config holds controller settings.
type Config struct {
	Worker       worker.Config
	PollInterval time.Duration
}

// DefaultConfig returns the default controller settings.
func DefaultConfig() Config {
	return Config{
		Worker:       worker.DefaultConfig(),
		PollInterval: consumer.DefaultPollInterval,
	}
}

// Result describes a finished task instance.
type Result struct {
	TaskID    string         `json:"task_id"`
	Kind      string         `json:"kind"`
	State     State          `json:"state"`
	Outcome   worker.Outcome `json:"-"`
	ExitCode  int            `json:"exit_code"`
	Error     string         `json:"error,omitempty"`
	Applied   int            `json:"applied"`
	Discarded int            `json:"discarded"`
	Produced  int            `json:"produced"`

	// ObserverErrors counts messages the observer failed to apply.
	ObserverErrors int       `json:"observer_errors"`
	Canceled       bool      `json:"canceled"`
	Failed         bool      `json:"failed"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Task is one running or finished task instance.
type Task struct {
	ID        string
	Kind      string
	StartedAt time.Time

	worker   *worker.Worker
	ch       *progress.Channel
	consumer *consumer.Consumer
	done     chan struct{}

	// guarded by Controller.mu
	cancelDiscarded int
	result          Result
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// IsAlive reports whether the task's process is still running.
func (t *Task) IsAlive() bool {
	return t.worker.IsAlive()
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithFinishHook registers fn to be called with every task result.
func WithFinishHook(fn func(Result)) Option {
	return func(c *Controller) {
		c.hooks = append(c.hooks, fn)
	}
}

// Controller runs at most one task at a time.
type Controller struct {
	cfg      Config
	logger   *logging.Logger
	recorder metrics.Recorder
	hooks    []func(Result)

	mu      sync.Mutex
	state   State
	current *Task
}

// NewController creates an idle controller.
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		logger:   logging.Default(),
		recorder: metrics.Nop{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("pipeline")
	return c
}

// Start builds a fresh worker, channel and consumer for strategy and starts
// them. It is rejected while a task is running or cancelling. A finished task
// is reset implicitly. Canceling ctx cancels the task.
func (c *Controller) Start(ctx context.Context, strategy tasks.Strategy, obs progress.Observer) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kind := strategy.Kind()
	if c.state.Active() {
		c.recorder.StartRejected(kind)
		c.logger.Warn("Start rejected, task already running",
			"kind", kind, "running_task", c.current.ID)
		return nil, errors.ErrTaskRunning(c.current.ID)
	}
	if c.state == StateFinished {
		c.transition(StateIdle)
	}

	spec, err := strategy.Command()
	if err != nil {
		return nil, err
	}

	ch := progress.NewChannel()
	task := &Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		StartedAt: time.Now(),
		ch:        ch,
		done:      make(chan struct{}),
	}
	log := c.logger.WithTaskID(task.ID).WithKind(kind)
	task.worker = worker.New(ch, c.cfg.Worker, log)
	task.consumer = consumer.New(consumer.Config{PollInterval: c.cfg.PollInterval}, log)

	if err := task.worker.Start(spec, strategy.Pattern()); err != nil {
		return nil, err
	}
	if err := task.consumer.Begin(task.worker, ch, obs); err != nil {
		task.worker.Cancel()
		return nil, err
	}

	c.current = task
	c.transition(StateRunning)
	c.recorder.TaskStarted(kind)
	log.Info("Task started", "command", spec.CommandLine())

	go c.watch(task)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				if err := c.cancelTask(task); err == nil {
					log.Info("Task canceled by context", "reason", ctx.Err())
				}
			case <-task.done:
			}
		}()
	}
	return task, nil
}

// Cancel cancels the running task. When it returns the task's channel is
// closed and empty and no further message reaches the observer. Cancelling
// an already cancelling task does nothing.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	task := c.current
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateRunning:
		return c.cancelTask(task)
	case StateCancelling:
		return nil
	default:
		return errors.NewTaskError(errors.CodeInvalidState, "No task is running").
			WithContext("state", state.String())
	}
}

func (c *Controller) cancelTask(task *Task) error {
	c.mu.Lock()
	if c.current != task || c.state != StateRunning {
		c.mu.Unlock()
		return errors.NewTaskError(errors.CodeInvalidState, "Task is not running").WithTask(task.ID)
	}
	c.transition(StateCancelling)
	c.mu.Unlock()

	task.consumer.Discard()
	discarded := Cancel(task.worker, task.ch)

	c.mu.Lock()
	task.cancelDiscarded += discarded
	c.mu.Unlock()

	c.logger.InfoTask("Task cancel requested", task.ID, "discarded", discarded)
	return nil
}

func (c *Controller) watch(task *Task) {
	<-task.worker.Done()
	<-task.consumer.Done()

	outcome := task.worker.Outcome()
	summary := task.consumer.Summary()
	finished := time.Now()

	c.mu.Lock()
	result := Result{
		TaskID:         task.ID,
		Kind:           task.Kind,
		State:          StateFinished,
		Outcome:        outcome,
		ExitCode:       outcome.ExitCode,
		Applied:        summary.Applied,
		Discarded:      summary.Discarded + task.cancelDiscarded,
		Produced:       task.ch.Produced(),
		ObserverErrors: summary.ObserverErrors,
		Canceled:       outcome.Canceled || c.state == StateCancelling,
		Failed:         outcome.Failed(),
		StartedAt:      task.StartedAt,
		FinishedAt:     finished,
	}
	if outcome.Err != nil {
		result.Error = outcome.Err.Error()
	}
	task.result = result
	if c.current == task {
		c.transition(StateFinished)
	}
	c.mu.Unlock()

	c.record(result, finished.Sub(task.StartedAt))
	c.logFinished(result)
	close(task.done)

	for _, hook := range c.hooks {
		hook(result)
	}
}

func (c *Controller) record(result Result, duration time.Duration) {
	outcome := metrics.OutcomeSucceeded
	switch {
	case result.Canceled:
		outcome = metrics.OutcomeCanceled
	case result.Failed:
		outcome = metrics.OutcomeFailed
	}
	c.recorder.TaskFinished(result.Kind, outcome, duration)
	c.recorder.MessagesProduced(result.Kind, result.Produced)
	c.recorder.MessagesApplied(result.Kind, result.Applied)
	c.recorder.MessagesDiscarded(result.Kind, result.Discarded)
	c.recorder.ObserverErrors(result.Kind, result.ObserverErrors)
}

func (c *Controller) logFinished(result Result) {
	log := c.logger.WithTaskID(result.TaskID).WithKind(result.Kind)
	fields := []any{
		"applied", result.Applied,
		"discarded", result.Discarded,
		"exit_code", result.ExitCode,
		"duration", result.FinishedAt.Sub(result.StartedAt),
	}
	switch {
	case result.Canceled:
		log.Info("Task canceled", fields...)
	case result.Failed && result.Applied == 0:
		log.Error("Task failed without progress", append(fields, "error", result.Error)...)
	case result.Failed:
		log.Error("Task failed", append(fields, "error", result.Error)...)
	default:
		log.Info("Task finished", fields...)
	}
}

// transition must be called with c.mu held.
func (c *Controller) transition(to State) {
	if !canTransition(c.state, to) {
		c.logger.Error("Invalid state transition", "from", c.state.String(), "to", to.String())
		return
	}
	c.state = to
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the running or last finished task, or nil.
func (c *Controller) Current() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Result returns the result of the current task once it has finished.
func (c *Controller) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.state != StateFinished {
		return Result{}, false
	}
	return c.current.result, true
}

// Wait blocks until the current task finishes or ctx is done.
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	task := c.Current()
	if task == nil {
		return Result{}, errors.NewTaskError(errors.CodeInvalidState, "No task has been started")
	}
	select {
	case <-task.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return task.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Reset acknowledges a finished task and returns the controller to idle.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		return nil
	case StateFinished:
		c.transition(StateIdle)
		c.current = nil
		return nil
	default:
		return errors.NewTaskError(errors.CodeInvalidState, "Cannot reset while a task is active").
			WithContext("state", c.state.String())
	}
}
