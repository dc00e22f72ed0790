// Package progress defines the progress protocol shared by workers and consumers:
// the Message type, the line-matching Pattern, the Observer that receives
// messages, and the Channel that carries them between goroutines.
package progress

import (
	"fmt"
	"maps"
)

// Message is a single structured progress update parsed from one line of
// external process output.
type Message struct {
	Status  string            `json:"status"`
	Value   float64           `json:"value"`
	Maximum float64           `json:"maximum"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Percent returns Value as a percentage of Maximum. The second result is
// false when Maximum is not positive and progress is indeterminate.
func (m Message) Percent() (float64, bool) {
	if m.Maximum <= 0 {
		return 0, false
	}
	return m.Value * 100 / m.Maximum, true
}

// Field returns the named implementation-specific field, or "".
func (m Message) Field(key string) string {
	return m.Fields[key]
}

func (m Message) String() string {
	if pct, ok := m.Percent(); ok {
		return fmt.Sprintf("%s (%.1f%%)", m.Status, pct)
	}
	return m.Status
}

func (m Message) clone() Message {
	if m.Fields != nil {
		m.Fields = maps.Clone(m.Fields)
	}
	return m
}
