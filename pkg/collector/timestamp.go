package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	errs "auditpoller/pkg/errors"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// TimestampError reports a value that is not a recognizable timestamp
type TimestampError struct {
	Value string
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("unrecognized timestamp %q", e.Value)
}

// Unwrap exposes the error as a parsing error
func (e *TimestampError) Unwrap() error {
	return errs.New(errs.ErrorTypeParsing, "unrecognized timestamp %q", e.Value)
}

// ParseTimestamp converts an event timestamp to Unix seconds, truncating any
// fraction. Values without a zone are taken as UTC. A bare integer is read as
// Unix seconds.
func ParseTimestamp(s string) (int64, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, &TimestampError{Value: s}
	}

	if isDigits(v) {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, &TimestampError{Value: s}
		}
		return n, nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, &TimestampError{Value: s}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
