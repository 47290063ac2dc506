// Package builders runs the configure and make steps of an engine source tree
package builders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/types"
)

// CommandStep runs one external tool and maps its failure onto a sentinel
type CommandStep struct {
	Name   string
	Kind   error
	Runner process.Runner
	Logger logger.Logger
	// LogDir receives <Name>.log with the tool's combined output; empty disables it
	LogDir string

	lastDuration time.Duration
	mu           sync.RWMutex
}

// NewCommandStep creates a step whose log lines carry name as target
func NewCommandStep(name string, kind error, runner process.Runner, log logger.Logger) *CommandStep {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &CommandStep{
		Name:   name,
		Kind:   kind,
		Runner: runner,
		Logger: log.WithTarget(name),
	}
}

// Run executes cmd and blocks until it exits
func (s *CommandStep) Run(ctx context.Context, cmd process.Command) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		s.mu.Lock()
		s.lastDuration = time.Since(startTime)
		s.mu.Unlock()
	}()

	logFile, err := s.prepareLogFile()
	if err != nil {
		s.Logger.Warn(fmt.Sprintf("Failed to create log file: %v", err))
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	command := strings.Join(cmd.Argv(), " ")
	s.logToFile(logFile, fmt.Sprintf("\n=== %s started at %s ===\n", s.Name, startTime.Format("2006-01-02 15:04:05")))
	s.logToFile(logFile, fmt.Sprintf("Executing: %s\n", command))
	s.Logger.Info("Running "+command, logger.WithField("dir", cmd.Dir))

	// Capture output with tee to log file
	output := &lockedBuffer{}
	var sink io.Writer = output
	if logFile != nil {
		sink = io.MultiWriter(output, logFile)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	err = s.Runner.Run(ctx, cmd)
	duration := time.Since(startTime)
	out := output.Bytes()

	if err != nil {
		s.logToFile(logFile, fmt.Sprintf("\n=== %s FAILED after %s ===\n", s.Name, duration))
		s.logToFile(logFile, fmt.Sprintf("Error: %v\n", err))
		return out, s.failure(ctx, cmd, err, out)
	}

	s.logToFile(logFile, fmt.Sprintf("\n=== %s SUCCEEDED after %s ===\n", s.Name, duration))
	s.Logger.Success(fmt.Sprintf("%s completed in %s", s.Name, duration.Round(time.Millisecond)))
	if len(out) > 0 {
		s.Logger.Debug("Tool output", logger.WithField("output", string(out)))
	}
	return out, nil
}

func (s *CommandStep) failure(ctx context.Context, cmd process.Command, err error, out []byte) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", s.Name, ctxErr)
	}

	toolErr := &types.ToolError{
		Kind:     s.Kind,
		Command:  cmd.Argv(),
		ExitCode: -1,
		Output:   string(out),
	}

	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		toolErr.ExitCode = exitErr.Code
	} else if toolErr.Output == "" {
		toolErr.Output = err.Error()
	}

	s.Logger.Error(fmt.Sprintf("%s failed", s.Name),
		logger.WithField("exitCode", toolErr.ExitCode),
		logger.WithField("error", err))
	return toolErr
}

// LastDuration returns how long the previous Run took
func (s *CommandStep) LastDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDuration
}

// prepareLogFile opens the step's log file in append mode
func (s *CommandStep) prepareLogFile() (*os.File, error) {
	if s.LogDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(s.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(s.LogDir, fmt.Sprintf("%s.log", s.Name))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logFile, nil
}

func (s *CommandStep) logToFile(logFile *os.File, message string) {
	if logFile != nil {
		logFile.WriteString(message)
	}
}

// lockedBuffer is shared by the stdout and stderr copiers
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
