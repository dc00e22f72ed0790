package worker

import (
	"time"

	"github.com/anstrom/taskpipe/internal/errors"
)

// Outcome describes how a worker's process ended. It is complete once the
// worker's Done channel is closed.
type Outcome struct {
	// Err is nil for a successful run. It carries CodeLaunchFailed,
	// CodeProcessFailed or CodeCanceled otherwise.
	Err      error
	ExitCode int
	// Messages counts progress messages accepted by the channel.
	Messages int
	// Lines counts output lines read, Ignored the oversized or non UTF-8 ones.
	Lines      int
	Ignored    int
	Canceled   bool
	Duration   time.Duration
	OutputTail []string
}

// Failed reports a launch or process failure. Cancellation is not a failure.
func (o Outcome) Failed() bool {
	return o.Err != nil && !errors.IsExpected(o.Err)
}

// LaunchFailed reports whether the program never started.
func (o Outcome) LaunchFailed() bool {
	return errors.IsCode(o.Err, errors.CodeLaunchFailed)
}

// Succeeded reports a run that was neither canceled nor failed.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}
