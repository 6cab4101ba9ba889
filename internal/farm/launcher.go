package farm

import (
	"context"
	"io"
	"os/exec"

	"github.com/pkg/errors"
)

// Launcher starts the worker tool for one command and blocks until it exits.
//
// A non-zero exit is reported through exitCode with a nil error. A non-nil error means
// the process could not be run at all.
type Launcher interface {
	Launch(ctx context.Context, cmd Command, stdout, stderr io.Writer) (exitCode int, err error)
}

// ExecLauncher runs Tool as a local OS process.
type ExecLauncher struct {
	Tool string
}

func NewExecLauncher(tool string) *ExecLauncher {
	return &ExecLauncher{Tool: tool}
}

func (l *ExecLauncher) Launch(ctx context.Context, cmd Command, stdout, stderr io.Writer) (int, error) {
	if l.Tool == "" {
		return -1, ErrToolMustBeSet
	}
	c := exec.CommandContext(ctx, l.Tool, cmd.Argv()...)
	c.Stdout = stdout
	c.Stderr = stderr
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return -1, errors.Wrapf(ctx.Err(), "%s interrupted", cmd.Verb)
		}
		return -1, errors.Wrapf(err, "run %s %s", l.Tool, cmd.Verb)
	}
	return 0, nil
}
