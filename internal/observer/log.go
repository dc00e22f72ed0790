package observer

import (
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/progress"
)

// Log writes every progress message to a logger. It is used for tasks that
// have no terminal, such as scheduled runs.
type Log struct {
	logger *logging.Logger
}

var _ progress.FinishObserver = (*Log)(nil)

// NewLog creates a log observer.
func NewLog(logger *logging.Logger) *Log {
	return &Log{logger: logger.WithComponent("progress")}
}

// Apply implements progress.Observer.
func (l *Log) Apply(msg progress.Message) error {
	args := []any{"status", msg.Status, "value", msg.Value, "maximum", msg.Maximum}
	if pct := PercentText(msg); pct != "" {
		args = append(args, "percent", pct)
	}
	for k, v := range msg.Fields {
		args = append(args, k, v)
	}
	l.logger.Info("Progress", args...)
	return nil
}

// Finished implements progress.FinishObserver.
func (l *Log) Finished(s progress.Summary) {
	l.logger.Info("Progress finished",
		"applied", s.Applied,
		"discarded", s.Discarded,
		"observer_errors", s.ObserverErrors,
		"canceled", s.Canceled,
		"failed", s.Failed)
}
