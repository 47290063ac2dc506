package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrNotFound is returned when the requested executable is not on PATH
var ErrNotFound = errors.New("executable not found")

// ExitError reports a command that ran but exited non-zero
type ExitError struct {
	Command []string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit status %d", strings.Join(e.Command, " "), e.Code)
}

// Command describes one external tool invocation
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one
	Dir string
	// Env is appended to the inherited environment
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// Argv returns the command line as a slice
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// Runner executes external commands
type Runner interface {
	// Run blocks until the command exits. A non-zero exit yields *ExitError,
	// a missing executable an error wrapping ErrNotFound.
	Run(ctx context.Context, cmd Command) error
	// Output runs the command and returns its standard output
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stderr bytes.Buffer
	cmd.Stdout = c.Stdout
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(c.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	return translate(c.Argv(), cmd.Run(), stderr.String())
}

// Output implements Runner
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	err := r.Run(ctx, Command{Name: name, Args: args, Stdout: &stdout})
	return stdout.Bytes(), err
}

func translate(argv []string, err error, stderr string) error {
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: argv, Code: exitErr.ExitCode(), Stderr: stderr}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, argv[0])
	}
	return err
}
