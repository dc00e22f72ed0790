// Package tasks defines the per task type strategy injected into the
// pipeline: how to invoke the external program and how to read its progress.
package tasks

import (
	"sync"

	"github.com/anstrom/taskpipe/internal/command"
	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/progress"
)

// Task kinds.
const (
	KindScan     = "scan"
	KindDownload = "download"
)

// Strategy describes one task instance. Strategies are single use: Command
// builds the invocation once and fails on later calls.
type Strategy interface {
	Kind() string
	Command() (command.Spec, error)
	Pattern() progress.Pattern
}

// Once guards a strategy's Command against being built twice. Embed it and
// call Claim at the top of Command.
type Once struct {
	mu   sync.Mutex
	used bool
}

// Claim marks the strategy as used. It fails when called a second time.
func (o *Once) Claim(kind string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.used {
		return errors.NewTaskError(errors.CodeInvalidState, "Task has already been run").
			WithContext("kind", kind)
	}
	o.used = true
	return nil
}
