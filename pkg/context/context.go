// Package context carries per-run identity through a maintenance run so
// every log line of one regeneration can be correlated.
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ctxKey is unexported so no other package can collide with these keys
type ctxKey int

const (
	runIDKey ctxKey = iota
	stepKey
	startTimeKey
)

// NewRunID creates a new unique run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithRunID adds a run ID to the context, generating one when empty
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = NewRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// RunID retrieves the run ID from context, or "" when none is set
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// WithStep records the pipeline step currently executing
func WithStep(parent context.Context, step string) context.Context {
	return context.WithValue(parent, stepKey, step)
}

// Step retrieves the current pipeline step, or ""
func Step(ctx context.Context) string {
	if s, ok := ctx.Value(stepKey).(string); ok {
		return s
	}
	return ""
}

// WithStartTime records when the run started
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// Elapsed returns the time since the recorded start, or zero if none
func Elapsed(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

// StartRun returns a context carrying a fresh run ID and start time
func StartRun(parent context.Context) context.Context {
	ctx := parent
	if RunID(ctx) == "" {
		ctx = WithRunID(ctx, "")
	}
	return WithStartTime(ctx, time.Now())
}
