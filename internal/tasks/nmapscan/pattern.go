package nmapscan

import (
	"strconv"
	"strings"

	"github.com/anstrom/taskpipe/internal/progress"
)

// timingExpr matches nmap's periodic stats lines, for example
// "SYN Stealth Scan Timing: About 12.50% done; ETC: 14:02 (0:00:21 remaining)".
const timingExpr = `(?i)(?P<status>.*?) Timing: About (?P<percent>[0-9.]+)% done(?:; ETC: (?P<etc>\S+) \((?P<remaining>[0-9:]+) remaining\))?`

// NewPattern returns the progress pattern for nmap's --stats-every output.
func NewPattern() progress.Pattern {
	return progress.MustRegexPattern(timingExpr, buildTiming)
}

func buildTiming(groups map[string]string) (progress.Message, bool) {
	pct, err := strconv.ParseFloat(groups["percent"], 64)
	if err != nil {
		return progress.Message{}, false
	}
	msg := progress.Message{
		Status:  strings.TrimSpace(groups["status"]),
		Value:   pct,
		Maximum: 100,
	}
	for _, key := range []string{"etc", "remaining"} {
		if v := groups[key]; v != "" {
			if msg.Fields == nil {
				msg.Fields = make(map[string]string, 2)
			}
			msg.Fields[key] = v
		}
	}
	return msg, true
}
