package progress

import (
	"fmt"
	"regexp"
)

// Pattern turns one line of process output into a Message. Lines that carry
// no progress information report false.
//
// A Pattern is used by exactly one worker goroutine, so implementations may
// keep per-task state (such as a completion counter) without locking.
type Pattern interface {
	Match(line string) (Message, bool)
}

// PatternFunc adapts a function to the Pattern interface.
type PatternFunc func(line string) (Message, bool)

// Match calls f(line).
func (f PatternFunc) Match(line string) (Message, bool) {
	return f(line)
}

// BuildFunc converts the named groups of a regular expression match into a
// Message. Returning false rejects the line.
type BuildFunc func(groups map[string]string) (Message, bool)

// RegexPattern matches lines against a regular expression with named groups
// and hands the groups to a BuildFunc.
type RegexPattern struct {
	re    *regexp.Regexp
	build BuildFunc
}

// NewRegexPattern compiles expr. The expression must declare at least one
// named group.
func NewRegexPattern(expr string, build BuildFunc) (*RegexPattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile progress pattern: %w", err)
	}
	named := 0
	for _, name := range re.SubexpNames() {
		if name != "" {
			named++
		}
	}
	if named == 0 {
		return nil, fmt.Errorf("progress pattern %q has no named groups", expr)
	}
	if build == nil {
		return nil, fmt.Errorf("progress pattern %q has no build function", expr)
	}
	return &RegexPattern{re: re, build: build}, nil
}

// MustRegexPattern is like NewRegexPattern but panics on error.
func MustRegexPattern(expr string, build BuildFunc) *RegexPattern {
	p, err := NewRegexPattern(expr, build)
	if err != nil {
		panic(err)
	}
	return p
}

// Match implements Pattern.
func (p *RegexPattern) Match(line string) (Message, bool) {
	sub := p.re.FindStringSubmatch(line)
	if sub == nil {
		return Message{}, false
	}
	groups := make(map[string]string, len(sub))
	for i, name := range p.re.SubexpNames() {
		if name != "" {
			groups[name] = sub[i]
		}
	}
	return p.build(groups)
}

// Expr returns the source text of the expression.
func (p *RegexPattern) Expr() string {
	return p.re.String()
}

// Feed applies p to each line in order and puts every match on ch.
// It returns the number of messages accepted by the channel.
func Feed(p Pattern, lines []string, ch *Channel) int {
	accepted := 0
	for _, line := range lines {
		msg, ok := p.Match(line)
		if !ok {
			continue
		}
		if ch.Put(msg) {
			accepted++
		}
	}
	return accepted
}
