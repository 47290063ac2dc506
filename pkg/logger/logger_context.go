package logger

import (
	"context"

	pcontext "github.com/pysqlcipher/amalgam/pkg/context"
)

// WithContext creates a logger that adds the run ID and elapsed time
// carried by ctx to every entry
func WithContext(ctx context.Context, logger Logger) Logger {
	if ctx == nil || pcontext.RunID(ctx) == "" {
		return logger
	}
	return &contextualLogger{
		ctx:    ctx,
		logger: logger,
	}
}

type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) fields(fields []Field) []Field {
	out := make([]Field, 0, len(fields)+2)
	out = append(out, WithField("run", shortID(pcontext.RunID(cl.ctx))))
	if step := pcontext.Step(cl.ctx); step != "" {
		out = append(out, WithField("step", step))
	}
	return append(out, fields...)
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	cl.logger.Info(message, cl.fields(fields)...)
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	cl.logger.Error(message, cl.fields(fields)...)
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	cl.logger.Warn(message, cl.fields(fields)...)
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	cl.logger.Debug(message, cl.fields(fields)...)
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	cl.logger.Success(message, cl.fields(fields)...)
}

func (cl *contextualLogger) WithTarget(target string) Logger {
	return &contextualLogger{
		ctx:    cl.ctx,
		logger: cl.logger.WithTarget(target),
	}
}

// shortID keeps log lines readable; eight hex chars are enough to correlate
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
