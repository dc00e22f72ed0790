// Package command describes how to invoke an external program: its path,
// positional arguments, flag options and the exit codes treated as success.
package command

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/taskpipe/internal/errors"
)

// OptionStyle controls how key/value options are rendered as flags.
type OptionStyle int

const (
	// OptionStyleSeparate renders "--key value".
	OptionStyleSeparate OptionStyle = iota
	// OptionStyleJoined renders "--key=value".
	OptionStyleJoined
)

// Option is a single flag option. A true Value renders as a presence flag,
// false or nil omits the flag, anything else is formatted with fmt.Sprint.
type Option struct {
	Key   string `validate:"required"`
	Value any
}

// Spec is an immutable description of one external process invocation.
// Methods that change a Spec return a modified copy.
type Spec struct {
	Program           string   `validate:"required"`
	Args              []string
	Options           []Option `validate:"dive"`
	AcceptedExitCodes []int    `validate:"dive,min=1,max=255"`
	// Streaming applies the progress pattern to each line as it arrives.
	// When false, output is buffered and matched after the process exits.
	Streaming   bool
	MergeStderr bool
	Dir         string
	Env         []string
	OptionStyle OptionStyle `validate:"oneof=0 1"`
}

var validate = validator.New()

// Validate checks that s can be turned into a command line.
func (s Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.WrapTaskError(errors.CodeValidation, "Invalid command spec", err).
			WithContext("program", s.Program)
	}
	for _, opt := range s.Options {
		if strings.HasPrefix(opt.Key, "-") || strings.ContainsAny(opt.Key, " \t\n=") {
			return errors.NewTaskError(errors.CodeValidation, fmt.Sprintf("Invalid option key %q", opt.Key)).
				WithContext("program", s.Program)
		}
	}
	return nil
}

// Accepts reports whether code counts as a successful exit.
// Zero is always accepted.
func (s Spec) Accepts(code int) bool {
	return code == 0 || slices.Contains(s.AcceptedExitCodes, code)
}

// Argv returns the program arguments: resolved options first, then the
// positional arguments. When a key repeats, the later value wins but the flag
// keeps the position of the first occurrence.
func (s Spec) Argv() []string {
	order := make([]string, 0, len(s.Options))
	values := make(map[string]any, len(s.Options))
	for _, opt := range s.Options {
		if _, seen := values[opt.Key]; !seen {
			order = append(order, opt.Key)
		}
		values[opt.Key] = opt.Value
	}

	argv := make([]string, 0, len(order)*2+len(s.Args))
	for _, key := range order {
		flag := "--" + key
		switch v := values[key].(type) {
		case nil:
		case bool:
			if v {
				argv = append(argv, flag)
			}
		default:
			if s.OptionStyle == OptionStyleJoined {
				argv = append(argv, flag+"="+fmt.Sprint(v))
			} else {
				argv = append(argv, flag, fmt.Sprint(v))
			}
		}
	}
	return append(argv, s.Args...)
}

// CommandLine returns the program and argv joined for logging.
func (s Spec) CommandLine() string {
	parts := append([]string{s.Program}, s.Argv()...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}

// WithOption returns a copy of s with opt appended.
func (s Spec) WithOption(key string, value any) Spec {
	c := s.Clone()
	c.Options = append(c.Options, Option{Key: key, Value: value})
	return c
}

// WithArgs returns a copy of s with args appended to the positional arguments.
func (s Spec) WithArgs(args ...string) Spec {
	c := s.Clone()
	c.Args = append(c.Args, args...)
	return c
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	s.Args = slices.Clone(s.Args)
	s.Options = slices.Clone(s.Options)
	s.AcceptedExitCodes = slices.Clone(s.AcceptedExitCodes)
	s.Env = slices.Clone(s.Env)
	return s
}
