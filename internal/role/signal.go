package role

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Status is the first line of a completion signal.
type Status string

const (
	StatusDone    Status = "DONE"
	StatusBlocked Status = "BLOCKED"
)

// ErrMalformedSignal marks a signal file the coordinator could not
// interpret. Treated the same as a missing signal: fatal for the run.
var ErrMalformedSignal = errors.New("malformed completion signal")

// Signal is a worker's completion report. Refs are the artifact paths
// (or, for the reviewer, the verdict) named on the lines after the
// status.
type Signal struct {
	Status Status
	// Reason is only set for BLOCKED.
	Reason string
	Refs   []string
}

// ParseSignal interprets a signal file. The first non-blank line must
// be "DONE" or "BLOCKED: <reason>"; remaining non-blank lines are
// references.
func ParseSignal(data []byte) (*Signal, error) {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty signal file", ErrMalformedSignal)
	}

	head := lines[0]
	switch {
	case head == string(StatusDone):
		return &Signal{Status: StatusDone, Refs: lines[1:]}, nil
	case strings.HasPrefix(head, string(StatusBlocked)+":"):
		reason := strings.TrimSpace(strings.TrimPrefix(head, string(StatusBlocked)+":"))
		if reason == "" {
			return nil, fmt.Errorf("%w: BLOCKED without a reason", ErrMalformedSignal)
		}
		return &Signal{Status: StatusBlocked, Reason: reason}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized status line %q", ErrMalformedSignal, head)
	}
}

// ReadSignal loads and parses the signal file at path.
func ReadSignal(path string) (*Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading completion signal: %w", err)
	}
	return ParseSignal(data)
}

// WriteSignal writes a signal file the way workers are expected to.
// Used by the in-process reviewer and by tests.
func WriteSignal(path string, sig *Signal) error {
	var b strings.Builder
	switch sig.Status {
	case StatusDone:
		b.WriteString(string(StatusDone))
	case StatusBlocked:
		fmt.Fprintf(&b, "%s: %s", StatusBlocked, sig.Reason)
	default:
		return fmt.Errorf("unknown signal status %q", sig.Status)
	}
	b.WriteByte('\n')
	for _, ref := range sig.Refs {
		b.WriteString(ref)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
