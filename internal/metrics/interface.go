// Package metrics provides interfaces for metrics collection and monitoring.
package metrics

import "time"

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/anstrom/taskpipe/internal/metrics Recorder

// Task outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Recorder receives task lifecycle events from the pipeline.
// This interface allows for easy mocking and testing of metrics functionality.
type Recorder interface {
	// TaskStarted records a task instance entering the running state.
	TaskStarted(kind string)

	// TaskFinished records a task instance reaching its terminal state.
	TaskFinished(kind, outcome string, duration time.Duration)

	// MessagesProduced adds n messages accepted by a task's channel.
	MessagesProduced(kind string, n int)

	// MessagesApplied adds n messages delivered to an observer.
	MessagesApplied(kind string, n int)

	// MessagesDiscarded adds n messages dropped by cancellation.
	MessagesDiscarded(kind string, n int)

	// ObserverErrors adds n failed observer applies.
	ObserverErrors(kind string, n int)

	// StartRejected records a start request refused because a task was active.
	StartRejected(kind string)
}

// Ensure that PrometheusMetrics and Nop implement Recorder.
var (
	_ Recorder = (*PrometheusMetrics)(nil)
	_ Recorder = Nop{}
)

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) TaskStarted(string)                         {}
func (Nop) TaskFinished(string, string, time.Duration) {}
func (Nop) MessagesProduced(string, int)               {}
func (Nop) MessagesApplied(string, int)                {}
func (Nop) MessagesDiscarded(string, int)              {}
func (Nop) ObserverErrors(string, int)                 {}
func (Nop) StartRejected(string)                       {}
