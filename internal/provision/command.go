// Package provision drives the external provisioning backend: the
// spark-ec2 script for launch/get-master/destroy and the EC2 API for
// tagging the launched instances.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/andrej220/eggo/internal/lg"
)

// CommandRunner runs a local command. With capture set, stdout is
// returned instead of being streamed to the operator.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, capture bool) (string, error)
}

// CommandError is a local command that could not run or exited non-zero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", strings.Join(e.Argv, " "))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ":\n" + e.Output
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (r *ExecRunner) Run(ctx context.Context, argv []string, capture bool) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}
	lg.FromContext(ctx).Info("local", lg.String("cmd", strings.Join(argv, " ")))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	if capture {
		cmd.Stdout = &stdout
		cmd.Stderr = io.MultiWriter(&stderr, r.Stderr)
	} else {
		cmd.Stdout = r.Stdout
		cmd.Stderr = r.Stderr
	}

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	cerr := &CommandError{Argv: argv, Output: stdout.String() + stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	} else {
		cerr.Err = err
	}
	return stdout.String(), cerr
}
