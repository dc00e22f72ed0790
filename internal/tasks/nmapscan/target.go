package nmapscan

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/taskpipe/internal/errors"
)

var (
	validate = validator.New()

	// rangePattern matches nmap IPv4 ranges such as 10.0.0.1-20 or 192.168.*.1.
	rangePattern = regexp.MustCompile(`^(\*|\d{1,3}(-\d{1,3})?)(\.(\*|\d{1,3}(-\d{1,3})?)){3}$`)
)

// ValidateTarget accepts an IP address, a CIDR block, an nmap IPv4 range such
// as 10.0.0.1-20, or a hostname.
func ValidateTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.NewTaskError(errors.CodeValidation, "Scan target is required")
	}
	if strings.HasPrefix(target, "-") {
		return invalidTarget(target)
	}
	if rangePattern.MatchString(target) {
		if !octetsInRange(target) {
			return invalidTarget(target)
		}
		return nil
	}
	if err := validate.Var(target, "ip|cidr|hostname_rfc1123"); err != nil {
		return invalidTarget(target)
	}
	return nil
}

func octetsInRange(target string) bool {
	for _, part := range strings.FieldsFunc(target, func(r rune) bool { return r == '.' || r == '-' }) {
		if part == "*" {
			continue
		}
		n := 0
		for _, c := range part {
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

func invalidTarget(target string) error {
	return errors.NewTaskError(errors.CodeValidation, "Invalid scan target").
		WithContext("target", target)
}

// outputName turns a target into a file name stem.
func outputName(target string) string {
	return strings.ReplaceAll(target, "/", "_")
}
