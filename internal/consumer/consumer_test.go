package consumer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/progress"
)

// fakeWorker is a Liveness whose state the test controls.
type fakeWorker struct {
	alive atomic.Bool
}

func newFakeWorker(alive bool) *fakeWorker {
	w := &fakeWorker{}
	w.alive.Store(alive)
	return w
}

func (f *fakeWorker) IsAlive() bool { return f.alive.Load() }

// failedWorker is a finished Liveness that reports a failed run.
type failedWorker struct{ fakeWorker }

func (f *failedWorker) Failed() bool { return true }

// MockObserver is a testify mock for progress.Observer.
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) Apply(msg progress.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

// recorder keeps applied messages and the finish summary.
type recorder struct {
	mu       sync.Mutex
	msgs     []progress.Message
	summary  *progress.Summary
	onApply  func(progress.Message) error
	finishes int
}

func (r *recorder) Apply(msg progress.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	fn := r.onApply
	r.mu.Unlock()
	if fn != nil {
		return fn(msg)
	}
	return nil
}

func (r *recorder) Finished(s progress.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &s
	r.finishes++
}

func (r *recorder) values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Value
	}
	return out
}

func newTestConsumer() *Consumer {
	return New(Config{PollInterval: 5 * time.Millisecond}, logging.NewDiscard())
}

func waitFinished(t *testing.T, c *Consumer) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
}

func TestConsumerAppliesInOrder(t *testing.T) {
	w := newFakeWorker(true)
	ch := progress.NewChannel()
	obs := &recorder{}
	c := newTestConsumer()

	require.NoError(t, c.Begin(w, ch, obs))
	assert.Equal(t, StatePolling, c.State())

	for i := 1; i <= 100; i++ {
		ch.Put(progress.Message{Value: float64(i), Maximum: 100})
	}
	w.alive.Store(false)
	waitFinished(t, c)

	values := obs.values()
	require.Len(t, values, 100)
	for i, v := range values {
		assert.Equal(t, float64(i+1), v)
	}
	assert.Equal(t, StateFinished, c.State())
	assert.Equal(t, 1, obs.finishes)
	assert.Equal(t, 100, obs.summary.Applied)
}

func TestConsumerFinalDrain(t *testing.T) {
	// Messages put right before the worker stops are still delivered.
	w := newFakeWorker(true)
	ch := progress.NewChannel()
	obs := &recorder{}
	c := newTestConsumer()

	require.NoError(t, c.Begin(w, ch, obs))
	time.Sleep(20 * time.Millisecond)

	ch.Put(progress.Message{Value: 1})
	ch.Put(progress.Message{Value: 2})
	w.alive.Store(false)

	waitFinished(t, c)
	assert.Equal(t, []float64{1, 2}, obs.values())
	assert.Equal(t, 0, ch.Len())
}

func TestConsumerWorkerNeverStarted(t *testing.T) {
	w := newFakeWorker(false)
	ch := progress.NewChannel()
	obs := new(MockObserver)
	c := newTestConsumer()

	require.NoError(t, c.Begin(w, ch, obs))
	waitFinished(t, c)

	obs.AssertNotCalled(t, "Apply", mock.Anything)
	assert.Equal(t, progress.Summary{}, c.Summary())
	assert.Equal(t, StateFinished, c.State())
}

func TestConsumerReportsFailedProducer(t *testing.T) {
	ch := progress.NewChannel()
	obs := &recorder{}
	c := newTestConsumer()

	require.NoError(t, c.Begin(&failedWorker{}, ch, obs))
	waitFinished(t, c)

	require.NotNil(t, obs.summary)
	assert.True(t, obs.summary.Failed)
	assert.Equal(t, 0, obs.summary.Applied)
}

func TestConsumerObserverErrorsDoNotStopLoop(t *testing.T) {
	w := newFakeWorker(true)
	ch := progress.NewChannel()
	obs := new(MockObserver)
	obs.On("Apply", mock.MatchedBy(func(m progress.Message) bool { return m.Status == "bad" })).
		Return(errors.New("render failed"))
	obs.On("Apply", mock.MatchedBy(func(m progress.Message) bool { return m.Status == "good" })).
		Return(nil)

	c := newTestConsumer()
	require.NoError(t, c.Begin(w, ch, obs))

	ch.Put(progress.Message{Status: "good"})
	ch.Put(progress.Message{Status: "bad"})
	ch.Put(progress.Message{Status: "good"})
	w.alive.Store(false)
	waitFinished(t, c)

	obs.AssertNumberOfCalls(t, "Apply", 3)
	summary := c.Summary()
	assert.Equal(t, 2, summary.Applied)
	assert.Equal(t, 1, summary.ObserverErrors)
}

func TestConsumerRecoversObserverPanic(t *testing.T) {
	w := newFakeWorker(true)
	ch := progress.NewChannel()
	obs := &recorder{onApply: func(m progress.Message) error {
		if m.Value == 2 {
			panic("boom")
		}
		return nil
	}}
	c := newTestConsumer()
	require.NoError(t, c.Begin(w, ch, obs))

	for i := 1; i <= 3; i++ {
		ch.Put(progress.Message{Value: float64(i)})
	}
	w.alive.Store(false)
	waitFinished(t, c)

	assert.Equal(t, []float64{1, 2, 3}, obs.values())
	assert.Equal(t, 2, c.Summary().Applied)
	assert.Equal(t, 1, c.Summary().ObserverErrors)
}

func TestConsumerDiscard(t *testing.T) {
	w := newFakeWorker(true)
	ch := progress.NewChannel()
	obs := &recorder{}
	c := newTestConsumer()
	require.NoError(t, c.Begin(w, ch, obs))

	ch.Put(progress.Message{Value: 1})
	require.Eventually(t, func() bool { return len(obs.values()) == 1 }, time.Second, time.Millisecond)

	c.Discard()
	ch.Put(progress.Message{Value: 2})
	ch.Put(progress.Message{Value: 3})
	w.alive.Store(false)
	waitFinished(t, c)

	assert.Equal(t, []float64{1}, obs.values())
	summary := c.Summary()
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 2, summary.Discarded)
	assert.True(t, summary.Canceled)
	assert.True(t, obs.summary.Canceled)
}

func TestConsumerBeginMisuse(t *testing.T) {
	c := newTestConsumer()
	assert.Error(t, c.Begin(nil, progress.NewChannel(), &recorder{}))
	assert.Error(t, c.Begin(newFakeWorker(false), nil, &recorder{}))
	assert.Error(t, c.Begin(newFakeWorker(false), progress.NewChannel(), nil))

	require.NoError(t, c.Begin(newFakeWorker(false), progress.NewChannel(), &recorder{}))
	assert.Error(t, c.Begin(newFakeWorker(false), progress.NewChannel(), &recorder{}))
	waitFinished(t, c)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "finished", StateFinished.String())
	assert.Equal(t, "state(9)", State(9).String())
}
