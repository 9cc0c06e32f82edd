// Package command runs external programs on behalf of the provisioning steps,
// optionally with the filesystem root switched to a target tree.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/cochaviz/rootstrap/internal/logging"
)

// DefaultWaitDelay is how long a cancelled non-interactive command may take to
// exit after SIGTERM before it is killed.
const DefaultWaitDelay = 10 * time.Second

// Command describes a single program invocation.
type Command struct {
	// Path is resolved on the host, or inside Root when Root is set, in which case it must be absolute.
	Path string
	Args []string
	// Env replaces the environment when non-nil.
	Env []string
	// Root switches the filesystem root of the child before exec.
	Root string
	// Interactive commands inherit the terminal and are never signalled on cancellation.
	Interactive bool
}

// String renders the command as a shell-ready line for logging.
func (c Command) String() string {
	words := make([]string, 0, len(c.Args)+3)
	if c.Root != "" {
		words = append(words, "chroot", c.Root)
	}
	words = append(words, c.Path)
	words = append(words, c.Args...)

	quoted := make([]string, len(words))
	for i, word := range words {
		q, err := syntax.Quote(word, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", word)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " ")
}

// Runner executes commands synchronously.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExitError reports a command that ran but did not succeed.
type ExitError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *ExitError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec. Zero values inherit the process stdio.
type ExecRunner struct {
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
	WaitDelay time.Duration
	Logger    *slog.Logger
}

var _ Runner = (*ExecRunner)(nil)

// Run starts cmd and waits for it to finish.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	if cmd.Path == "" {
		return errors.New("no command provided")
	}
	if cmd.Root != "" && !strings.HasPrefix(cmd.Path, "/") {
		return fmt.Errorf("command %q must be absolute when run inside %s", cmd.Path, cmd.Root)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line := cmd.String()
	logging.Ensure(r.Logger).Debug("running command", "command", line, "interactive", cmd.Interactive)

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Env = cmd.Env
	c.Stdout = orDefault(r.Stdout, os.Stdout)
	c.Stderr = orDefault(r.Stderr, os.Stderr)
	c.SysProcAttr = &syscall.SysProcAttr{}
	if cmd.Root != "" {
		c.SysProcAttr.Chroot = cmd.Root
		c.Dir = "/"
	}

	if cmd.Interactive {
		if r.Stdin != nil {
			c.Stdin = r.Stdin
		} else {
			c.Stdin = os.Stdin
		}
		// the operator ends the session; Wait reports the cancellation afterwards
		c.Cancel = func() error { return nil }
	} else {
		// debootstrap and dpkg fork helpers; signal the whole group so none outlive the run
		c.SysProcAttr.Setpgid = true
		c.Cancel = func() error { return signalGroup(c.Process.Pid, syscall.SIGTERM) }
		c.WaitDelay = r.WaitDelay
		if c.WaitDelay <= 0 {
			c.WaitDelay = DefaultWaitDelay
		}
	}

	err := c.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if !cmd.Interactive && c.Process != nil {
			// members that ignored SIGTERM past WaitDelay
			signalGroup(c.Process.Pid, syscall.SIGKILL)
		}
		return fmt.Errorf("%s: %w", line, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: line, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &ExitError{Command: line, ExitCode: -1, Err: err}
}

// signalGroup delivers sig to every process in the group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func orDefault(w io.Writer, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}
