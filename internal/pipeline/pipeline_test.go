package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/taskpipe/internal/command"
	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/metrics"
	"github.com/anstrom/taskpipe/internal/metrics/mocks"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/tasks"
	"github.com/anstrom/taskpipe/internal/worker"
)

const testKind = "test"

var percentPattern = progress.MustRegexPattern(`^(?P<status>\w+) (?P<percent>[0-9.]+)%$`,
	func(g map[string]string) (progress.Message, bool) {
		v, err := strconv.ParseFloat(g["percent"], 64)
		if err != nil {
			return progress.Message{}, false
		}
		return progress.Message{Status: g["status"], Value: v, Maximum: 100}, true
	})

type scriptStrategy struct {
	tasks.Once
	program string
	script  string
	err     error
}

func (s *scriptStrategy) Kind() string { return testKind }

func (s *scriptStrategy) Command() (command.Spec, error) {
	if s.err != nil {
		return command.Spec{}, s.err
	}
	if err := s.Claim(testKind); err != nil {
		return command.Spec{}, err
	}
	program := s.program
	if program == "" {
		program = "/bin/sh"
	}
	return command.Spec{
		Program:     program,
		Args:        []string{"-c", s.script},
		Streaming:   true,
		MergeStderr: true,
	}, nil
}

func (s *scriptStrategy) Pattern() progress.Pattern { return percentPattern }

func script(s string) *scriptStrategy { return &scriptStrategy{script: s} }

// collector is a thread-safe observer.
type collector struct {
	mu   sync.Mutex
	msgs []progress.Message
}

func (c *collector) Apply(msg progress.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) values() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Value
	}
	return out
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("/bin/sh not available: %v", err)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Worker.KillGrace = 0
	return cfg
}

func newTestController(opts ...Option) *Controller {
	opts = append([]Option{WithLogger(logging.NewDiscard())}, opts...)
	return NewController(testConfig(), opts...)
}

func waitResult(t *testing.T, c *Controller) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := c.Wait(ctx)
	require.NoError(t, err)
	return result
}

type fakeCanceler struct{ calls int }

func (f *fakeCanceler) Cancel() { f.calls++ }

func TestCancelDrainsChannel(t *testing.T) {
	ch := progress.NewChannel()
	for i := 0; i < 10; i++ {
		ch.Put(progress.Message{Value: float64(i)})
	}
	w := &fakeCanceler{}

	discarded := Cancel(w, ch)

	assert.Equal(t, 1, w.calls)
	assert.Equal(t, 10, discarded)
	assert.Empty(t, ch.TryTakeAll())
	assert.False(t, ch.Put(progress.Message{}), "late puts are rejected")
	assert.Empty(t, ch.TryTakeAll())

	assert.Equal(t, 0, Cancel(w, ch), "second cancel has nothing to drain")
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StateIdle, StateRunning, true},
		{StateRunning, StateFinished, true},
		{StateRunning, StateCancelling, true},
		{StateCancelling, StateFinished, true},
		{StateFinished, StateIdle, true},
		{StateFinished, StateRunning, false},
		{StateIdle, StateFinished, false},
		{StateCancelling, StateRunning, false},
		{StateIdle, StateCancelling, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, canTransition(tt.from, tt.to))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "cancelling", StateCancelling.String())
	assert.Equal(t, "state(42)", State(42).String())

}

func TestStateJSONRoundTrip(t *testing.T) {
	for _, state := range []State{StateIdle, StateRunning, StateCancelling, StateFinished} {
		t.Run(state.String(), func(t *testing.T) {
			b, err := json.Marshal(Result{State: state})
			require.NoError(t, err)
			assert.Contains(t, string(b), `"state":"`+state.String()+`"`)

			var decoded Result
			require.NoError(t, json.Unmarshal(b, &decoded))
			assert.Equal(t, state, decoded.State)
		})
	}

	var s State
	assert.Error(t, json.Unmarshal([]byte(`"paused"`), &s))
	_, err := json.Marshal(State(42))
	assert.Error(t, err)
}

func TestControllerRunsTaskToCompletion(t *testing.T) {
	requireShell(t)
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().TaskStarted(testKind)
	rec.EXPECT().TaskFinished(testKind, metrics.OutcomeSucceeded, gomock.Any())
	rec.EXPECT().MessagesProduced(testKind, 3)
	rec.EXPECT().MessagesApplied(testKind, 3)
	rec.EXPECT().MessagesDiscarded(testKind, 0)
	rec.EXPECT().ObserverErrors(testKind, 0)

	var hooked []Result
	var hookMu sync.Mutex
	hookDone := make(chan struct{})
	c := newTestController(WithRecorder(rec), WithFinishHook(func(r Result) {
		hookMu.Lock()
		hooked = append(hooked, r)
		hookMu.Unlock()
		close(hookDone)
	}))
	assert.Equal(t, StateIdle, c.State())

	obs := &collector{}
	strategy := script(`echo "Starting 10%"; echo "Starting 55%"; echo "garbage"; echo "Finishing 100%"`)
	task, err := c.Start(context.Background(), strategy, obs)
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	assert.Equal(t, testKind, task.Kind)

	result := waitResult(t, c)

	assert.Equal(t, StateFinished, c.State())
	assert.Equal(t, []float64{10, 55, 100}, obs.values())
	assert.Equal(t, task.ID, result.TaskID)
	assert.Equal(t, 3, result.Applied)
	assert.Equal(t, 3, result.Produced)
	assert.Equal(t, 0, result.Discarded)
	assert.False(t, result.Failed)
	assert.False(t, result.Canceled)
	assert.False(t, task.IsAlive())

	stored, ok := c.Result()
	assert.True(t, ok)
	assert.Equal(t, result.TaskID, stored.TaskID)

	<-hookDone
	hookMu.Lock()
	assert.Len(t, hooked, 1)
	hookMu.Unlock()

	require.NoError(t, c.Reset())
	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.Current())
}

func TestControllerRejectsStartWhileRunning(t *testing.T) {
	requireShell(t)
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().TaskStarted(testKind)
	rec.EXPECT().StartRejected(testKind)
	rec.EXPECT().TaskFinished(testKind, metrics.OutcomeCanceled, gomock.Any())
	rec.EXPECT().MessagesProduced(testKind, gomock.Any())
	rec.EXPECT().MessagesApplied(testKind, gomock.Any())
	rec.EXPECT().MessagesDiscarded(testKind, gomock.Any())
	rec.EXPECT().ObserverErrors(testKind, 0)

	c := newTestController(WithRecorder(rec))
	first, err := c.Start(context.Background(), script(`sleep 30`), &collector{})
	require.NoError(t, err)

	second := script(`echo "never 1%"`)
	_, err = c.Start(context.Background(), second, &collector{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTaskRunning))
	assert.Equal(t, StateRunning, c.State())
	assert.Same(t, first, c.Current())

	// The rejected strategy was not consumed.
	_, err = second.Command()
	assert.NoError(t, err)

	require.NoError(t, c.Cancel())
	result := waitResult(t, c)
	assert.True(t, result.Canceled)
}

func TestControllerCancelLeavesNothingPending(t *testing.T) {
	requireShell(t)
	c := newTestController()
	obs := &collector{}

	task, err := c.Start(context.Background(), script(`i=0; while true; do i=$((i+1)); echo "tick $((i % 100))%"; done`), obs)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return obs.count() > 0 }, 5*time.Second, time.Millisecond)

	require.NoError(t, c.Cancel())

	assert.Empty(t, task.ch.TryTakeAll(), "channel must be empty after cancel returns")
	appliedAtCancel := obs.count()
	assert.NotEqual(t, StateRunning, c.State())

	// Idempotent while cancelling or finished.
	_ = c.Cancel()

	result := waitResult(t, c)
	assert.Equal(t, appliedAtCancel, obs.count(), "no message may be applied after cancel returns")
	assert.Empty(t, task.ch.TryTakeAll())
	assert.True(t, result.Canceled)
	assert.False(t, result.Failed)
	assert.Equal(t, StateFinished, c.State())
	assert.Equal(t, result.Produced, result.Applied+result.Discarded)
}

func TestControllerLaunchFailure(t *testing.T) {
	c := newTestController()
	obs := &collector{}

	strategy := &scriptStrategy{program: filepath.Join(t.TempDir(), "missing-binary")}
	_, err := c.Start(context.Background(), strategy, obs)
	require.NoError(t, err, "launch errors are reported through the result")

	result := waitResult(t, c)
	assert.True(t, result.Failed)
	assert.True(t, result.Outcome.LaunchFailed())
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 0, result.Produced)
	assert.Equal(t, 0, obs.count())
	assert.NotEmpty(t, result.Error)
}

func TestControllerProcessFailure(t *testing.T) {
	requireShell(t)
	c := newTestController()
	obs := &collector{}

	_, err := c.Start(context.Background(), script(`echo "half 50%"; exit 4`), obs)
	require.NoError(t, err)

	result := waitResult(t, c)
	assert.True(t, result.Failed)
	assert.Equal(t, 4, result.ExitCode)
	assert.Equal(t, 1, result.Applied)
	assert.True(t, errors.IsCode(result.Outcome.Err, errors.CodeProcessFailed))
}

func TestControllerStartAfterFinishedResetsImplicitly(t *testing.T) {
	requireShell(t)
	c := newTestController()

	_, err := c.Start(context.Background(), script(`echo "a 1%"`), &collector{})
	require.NoError(t, err)
	first := waitResult(t, c)

	task, err := c.Start(context.Background(), script(`echo "b 2%"`), &collector{})
	require.NoError(t, err)
	second := waitResult(t, c)

	assert.NotEqual(t, first.TaskID, second.TaskID)
	assert.Equal(t, task.ID, second.TaskID)
}

func TestControllerStrategyReuseFails(t *testing.T) {
	requireShell(t)
	c := newTestController()
	strategy := script(`true`)

	_, err := c.Start(context.Background(), strategy, &collector{})
	require.NoError(t, err)
	waitResult(t, c)

	_, err = c.Start(context.Background(), strategy, &collector{})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerCommandError(t *testing.T) {
	c := newTestController()
	_, err := c.Start(context.Background(), &scriptStrategy{err: errors.NewTaskError(errors.CodeValidation, "bad target")}, &collector{})
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerContextCancel(t *testing.T) {
	requireShell(t)
	c := newTestController()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := c.Start(ctx, script(`sleep 30`), &collector{})
	require.NoError(t, err)

	cancel()
	result := waitResult(t, c)
	assert.True(t, result.Canceled)
}

func TestControllerIdleOperations(t *testing.T) {
	c := newTestController()

	err := c.Cancel()
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))

	_, err = c.Wait(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))

	_, ok := c.Result()
	assert.False(t, ok)

	assert.NoError(t, c.Reset())
}

func TestControllerWaitTimeoutAndResetWhileRunning(t *testing.T) {
	requireShell(t)
	c := newTestController()

	_, err := c.Start(context.Background(), script(`sleep 30`), &collector{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.True(t, errors.IsCode(c.Reset(), errors.CodeInvalidState))

	require.NoError(t, c.Cancel())
	waitResult(t, c)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, worker.DefaultConfig(), cfg.Worker)
}
