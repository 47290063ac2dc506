package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrToolingUnavailable  = errors.New("tooling unavailable")
	ErrPackageNotFound     = errors.New("package not found")
	ErrMissingCapability   = errors.New("missing capability")
	ErrMalformedArchive    = errors.New("malformed archive")
	ErrConfigureFailed     = errors.New("configure failed")
	ErrBuildFailed         = errors.New("build failed")
	ErrStagingIncomplete   = errors.New("staging incomplete")
	ErrAmalgamationMissing = errors.New("amalgamation missing")
	ErrStaleAmalgamation   = errors.New("stale amalgamation")
	ErrUnsupportedSource   = errors.New("unsupported source")
)

// ToolError records a failed external tool invocation
type ToolError struct {
	Kind     error
	Command  []string
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%v: %s exited with status %d", e.Kind, strings.Join(e.Command, " "), e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + lastLines(out, 20)
	}
	return msg
}

// Unwrap exposes the sentinel so errors.Is matches on the failure kind
func (e *ToolError) Unwrap() error {
	return e.Kind
}

// ExitCode extracts the exit status of a failed tool from err, or -1
func ExitCode(err error) int {
	var te *ToolError
	if errors.As(err, &te) {
		return te.ExitCode
	}
	return -1
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
