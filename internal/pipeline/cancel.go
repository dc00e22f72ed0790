package pipeline

import "github.com/anstrom/taskpipe/internal/progress"

// Canceler is the part of a worker the cancel protocol needs.
type Canceler interface {
	Cancel()
}

// Cancel kills the worker's process, closes the channel against late puts and
// drains it until empty. It returns the number of discarded messages. When it
// returns, ch.TryTakeAll is empty and stays empty.
func Cancel(w Canceler, ch *progress.Channel) int {
	w.Cancel()
	ch.Close()

	discarded := 0
	for {
		msgs := ch.TryTakeAll()
		if len(msgs) == 0 {
			return discarded
		}
		discarded += len(msgs)
	}
}
