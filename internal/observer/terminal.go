// Package observer holds the progress observers used by the CLI and the API
// server.
package observer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/anstrom/taskpipe/internal/progress"
)

const barWidth = 30

var spinnerFrames = []string{"|", "/", "-", "\\"}

// TerminalConfig controls how a Terminal renders progress.
type TerminalConfig struct {
	// Interactive redraws a single line with a bar. Otherwise every message
	// is written on its own line.
	Interactive bool
	Color       bool
}

// Terminal renders progress messages as a status line with a percentage.
// A message with a non-positive maximum is shown as indeterminate.
type Terminal struct {
	out io.Writer
	cfg TerminalConfig

	mu      sync.Mutex
	frame   int
	lastLen int
	last    progress.Message
	seen    bool
}

var _ progress.FinishObserver = (*Terminal)(nil)

// NewTerminal creates a terminal observer writing to out.
func NewTerminal(out io.Writer, cfg TerminalConfig) *Terminal {
	return &Terminal{out: out, cfg: cfg}
}

// PercentText formats the percentage of msg with one decimal, or returns ""
// when progress is indeterminate.
func PercentText(msg progress.Message) string {
	pct, ok := msg.Percent()
	if !ok || msg.Value < 0 {
		return ""
	}
	return fmt.Sprintf("%.1f%%", pct)
}

// Apply implements progress.Observer.
func (t *Terminal) Apply(msg progress.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = msg
	t.seen = true

	if !t.cfg.Interactive {
		line := msg.Status
		if pct := PercentText(msg); pct != "" {
			line += " " + pct
		}
		_, err := fmt.Fprintln(t.out, line)
		return err
	}

	line := t.render(msg)
	pad := ""
	if n := t.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	t.lastLen = len(line)
	_, err := fmt.Fprintf(t.out, "\r%s%s", line, pad)
	return err
}

func (t *Terminal) render(msg progress.Message) string {
	pct, ok := msg.Percent()
	if !ok || msg.Value < 0 {
		frame := spinnerFrames[t.frame%len(spinnerFrames)]
		t.frame++
		return fmt.Sprintf("%s %s", frame, msg.Status)
	}

	filled := int(pct / 100 * barWidth)
	filled = max(0, min(filled, barWidth))
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	return fmt.Sprintf("[%s] %6s %s", bar, PercentText(msg), msg.Status)
}

// Finished implements progress.FinishObserver. It ends the progress line and
// prints a one-line summary.
func (t *Terminal) Finished(s progress.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.Interactive && t.seen {
		_, _ = fmt.Fprintln(t.out)
	}

	c := color.New(color.FgGreen)
	text := fmt.Sprintf("Done: %d updates", s.Applied)
	switch {
	case s.Canceled:
		c = color.New(color.FgYellow)
		text = fmt.Sprintf("Canceled: %d updates applied, %d discarded", s.Applied, s.Discarded)
	case s.Failed:
		c = color.New(color.FgRed)
		text = fmt.Sprintf("Failed: %d updates", s.Applied)
	case s.ObserverErrors > 0:
		c = color.New(color.FgRed)
		text = fmt.Sprintf("Done: %d updates, %d could not be shown", s.Applied, s.ObserverErrors)
	}
	if t.cfg.Color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	_, _ = c.Fprintln(t.out, text)
}

// Last returns the last applied message.
func (t *Terminal) Last() (progress.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.seen
}
