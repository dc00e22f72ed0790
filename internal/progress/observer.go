package progress

// Observer receives drained messages one at a time, in production order.
// An error from Apply is reported by the consumer and does not stop polling.
type Observer interface {
	Apply(msg Message) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(msg Message) error

// Apply calls f(msg).
func (f ObserverFunc) Apply(msg Message) error {
	return f(msg)
}

// Summary describes a consumer that reached its terminal state.
type Summary struct {
	Applied        int  `json:"applied"`
	Discarded      int  `json:"discarded"`
	ObserverErrors int  `json:"observer_errors"`
	Canceled       bool `json:"canceled"`
	// Failed is set when the producer failed to launch or exited with a
	// rejected code.
	Failed bool `json:"failed"`
}

// FinishObserver is implemented by observers that want a single callback once
// the consumer has finished, for example to re-enable start controls.
type FinishObserver interface {
	Observer
	Finished(summary Summary)
}

// Multi fans every message out to each observer in order. All observers see
// every message; the first error is returned.
func Multi(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) Apply(msg Message) error {
	var first error
	for _, o := range m {
		if err := o.Apply(msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m multiObserver) Finished(summary Summary) {
	for _, o := range m {
		if f, ok := o.(FinishObserver); ok {
			f.Finished(summary)
		}
	}
}
