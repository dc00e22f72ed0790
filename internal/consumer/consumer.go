// Package consumer polls a progress channel on a fixed interval and applies
// drained messages to an observer until the producing worker has exited.
package consumer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/progress"
)

// DefaultPollInterval is the delay between two drains of the channel.
const DefaultPollInterval = 50 * time.Millisecond

// Liveness reports whether the producer of a channel may still put messages.
type Liveness interface {
	IsAlive() bool
}

// FailureReporter is optionally implemented by a Liveness that can tell,
// once it is no longer alive, whether its run failed.
type FailureReporter interface {
	Failed() bool
}

// State is the polling state of a consumer.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds consumer settings.
type Config struct {
	PollInterval time.Duration
}

// Consumer drains one channel for one task instance.
type Consumer struct {
	interval time.Duration
	logger   *logging.Logger

	// batch serializes a drain-and-apply pass with Discard.
	batch      sync.Mutex
	discarding atomic.Bool

	started   atomic.Bool
	state     atomic.Int32
	applied   atomic.Int64
	discarded atomic.Int64
	failures  atomic.Int64
	failed    atomic.Bool
	done      chan struct{}
}

// New creates a consumer. A non-positive poll interval uses the default.
func New(cfg Config, logger *logging.Logger) *Consumer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		interval: cfg.PollInterval,
		logger:   logger.WithComponent("consumer"),
		done:     make(chan struct{}),
	}
}

// Begin starts the polling loop on its own goroutine. While w is alive the
// loop drains ch every interval; once w reports not alive it drains exactly
// once more and finishes.
func (c *Consumer) Begin(w Liveness, ch *progress.Channel, obs progress.Observer) error {
	if w == nil || ch == nil || obs == nil {
		return errors.NewTaskError(errors.CodeValidation, "Consumer requires a worker, a channel and an observer")
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.NewTaskError(errors.CodeInvalidState, "Consumer already started")
	}
	c.state.Store(int32(StatePolling))
	go c.loop(w, ch, obs)
	return nil
}

func (c *Consumer) loop(w Liveness, ch *progress.Channel, obs progress.Observer) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for range ticker.C {
		// Liveness is read before draining: every put happens before the
		// worker reports not alive, so this drain is the last one needed.
		alive := w.IsAlive()
		c.drain(ch, obs)
		if !alive {
			break
		}
	}

	if r, ok := w.(FailureReporter); ok && r.Failed() {
		c.failed.Store(true)
	}
	c.state.Store(int32(StateFinished))
	summary := c.Summary()
	if f, ok := obs.(progress.FinishObserver); ok {
		c.finished(f, summary)
	}
	c.logger.Debug("Consumer finished",
		"applied", summary.Applied,
		"discarded", summary.Discarded,
		"observer_errors", summary.ObserverErrors)
	close(c.done)
}

func (c *Consumer) drain(ch *progress.Channel, obs progress.Observer) {
	c.batch.Lock()
	defer c.batch.Unlock()

	msgs := ch.TryTakeAll()
	if len(msgs) == 0 {
		return
	}
	if c.discarding.Load() {
		c.discarded.Add(int64(len(msgs)))
		return
	}
	for _, msg := range msgs {
		if err := c.apply(obs, msg); err != nil {
			c.failures.Add(1)
			c.logger.Warn("Observer failed to apply progress message",
				"error", errors.WrapTaskError(errors.CodeObserverFailed, "apply failed", err),
				"status", msg.Status)
			continue
		}
		c.applied.Add(1)
	}
}

func (c *Consumer) apply(obs progress.Observer, msg progress.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return obs.Apply(msg)
}

func (c *Consumer) finished(f progress.FinishObserver, summary progress.Summary) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("Observer panicked in finish callback", "panic", r)
		}
	}()
	f.Finished(summary)
}

// Discard makes every later drain drop its messages instead of applying
// them. It waits for an in-flight apply pass, so once it returns no message
// reaches the observer. It must not be called from Observer.Apply.
func (c *Consumer) Discard() {
	c.batch.Lock()
	c.discarding.Store(true)
	c.batch.Unlock()
}

// Done is closed once the consumer has reached its terminal state.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// State returns the current polling state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Summary returns the counters so far. They are final once Done is closed.
func (c *Consumer) Summary() progress.Summary {
	return progress.Summary{
		Applied:        int(c.applied.Load()),
		Discarded:      int(c.discarded.Load()),
		ObserverErrors: int(c.failures.Load()),
		Canceled:       c.discarding.Load(),
		Failed:         c.failed.Load(),
	}
}
