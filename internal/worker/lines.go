package worker

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

const initialBufferSize = 64 * 1024

// lineScanner reads process output as lines terminated by '\n' or '\r', so
// progress output that rewrites a single terminal line is seen line by line.
// Lines longer than the buffer limit are dropped whole and reading continues.
type lineScanner struct {
	scanner  *bufio.Scanner
	max      int
	skipping bool
	dropped  int
	invalid  int
}

func newLineScanner(r io.Reader, maxLine int) *lineScanner {
	if maxLine <= 0 {
		maxLine = DefaultConfig().ScanBufferBytes
	}
	ls := &lineScanner{max: maxLine}
	ls.scanner = bufio.NewScanner(r)
	ls.scanner.Buffer(make([]byte, 0, min(initialBufferSize, maxLine)), maxLine)
	ls.scanner.Split(ls.split)
	return ls
}

func (ls *lineScanner) split(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if ls.skipping {
			ls.skipping = false
			ls.dropped++
			return i + 1, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		if ls.skipping {
			ls.skipping = false
			ls.dropped++
			return len(data), nil, nil
		}
		return len(data), data, nil
	}
	if len(data) >= ls.max {
		ls.skipping = true
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// Next returns the next non-empty, valid UTF-8 line. The second result is
// false at end of stream.
func (ls *lineScanner) Next() (string, bool) {
	for ls.scanner.Scan() {
		b := ls.scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		if !utf8.Valid(b) {
			ls.invalid++
			continue
		}
		return string(b), true
	}
	return "", false
}

// Err returns the first non-EOF read error.
func (ls *lineScanner) Err() error {
	return ls.scanner.Err()
}

// Ignored reports how many lines were skipped as oversized or not UTF-8.
func (ls *lineScanner) Ignored() int {
	return ls.dropped + ls.invalid
}

// tail keeps the last n lines written to it.
type tail struct {
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	if t.n <= 0 {
		return
	}
	if len(t.lines) == t.n {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.n-1]
	}
	t.lines = append(t.lines, line)
}

func (t *tail) snapshot() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// tailWriter collects the last lines written to a separate stderr stream.
type tailWriter struct {
	tail    *tail
	partial []byte
}

func (tw *tailWriter) Write(p []byte) (int, error) {
	data := append(tw.partial, p...)
	for {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		if i > 0 && utf8.Valid(data[:i]) {
			tw.tail.add(string(data[:i]))
		}
		data = data[i+1:]
	}
	tw.partial = append(tw.partial[:0], data...)
	return len(p), nil
}

func (tw *tailWriter) flush() {
	if len(tw.partial) > 0 && utf8.Valid(tw.partial) {
		tw.tail.add(string(tw.partial))
	}
	tw.partial = nil
}
