package batchdownload

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/taskpipe/internal/errors"
)

var validate = validator.New()

// Entry is one file to download.
type Entry struct {
	URL  string `json:"url" yaml:"url" validate:"required,url"`
	Name string `json:"name" yaml:"name" validate:"required,excludesall=/\\"`
}

// inputEntry renders the entry in aria2c input file format.
func (e Entry) inputEntry() string {
	return fmt.Sprintf("%s\n out=%s\n", e.URL, e.Name)
}

// ValidateEntries checks every entry and rejects duplicate file names.
func ValidateEntries(entries []Entry) error {
	if len(entries) == 0 {
		return errors.NewTaskError(errors.CodeValidation, "At least one download entry is required")
	}
	names := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if err := validate.Struct(e); err != nil {
			return errors.WrapTaskError(errors.CodeValidation, "Invalid download entry", err).
				WithContext("index", i).
				WithContext("url", e.URL)
		}
		if _, dup := names[e.Name]; dup {
			return errors.NewTaskError(errors.CodeValidation, "Duplicate download file name").
				WithContext("name", e.Name)
		}
		names[e.Name] = struct{}{}
	}
	return nil
}

// ParseInputFile reads entries from lines of the form "url [name]". Blank
// lines and lines starting with # are skipped. Without a name the last path
// element of the URL is used.
func ParseInputFile(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 2 {
			return nil, errors.NewTaskError(errors.CodeValidation, "Expected \"url [name]\"").
				WithContext("line", lineNo)
		}
		entry := Entry{URL: fields[0]}
		if len(fields) == 2 {
			entry.Name = fields[1]
		} else {
			entry.Name = nameFromURL(fields[0])
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapTaskError(errors.CodeUnknown, "Failed to read input file", err)
	}
	return entries, nil
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}
