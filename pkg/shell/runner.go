// Package shell runs external package-manager and transport commands.
//
// Commands are always built as argv lists, never interpolated strings, so
// spec fragments from configuration cannot smuggle shell syntax into an
// invocation.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/logging"
)

// Command is one external invocation.
type Command struct {
	// Argv is the program and its arguments.
	Argv []string

	// Env holds extra KEY=VALUE entries appended to the process environment.
	Env []string

	// Dir is the working directory. Empty means the caller's.
	Dir string
}

// String renders the command the way describe mode shows it.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Runner executes commands. The OS implementation is the only one used in
// production; tests substitute a scripted fake.
type Runner interface {
	// Run executes the command, streaming its output into the log.
	Run(ctx context.Context, cmd Command) error

	// Output executes the command and returns its combined stdout.
	Output(ctx context.Context, cmd Command) (string, error)
}

// DefaultGrace is how long a process gets between SIGTERM and SIGKILL when
// its context expires.
const DefaultGrace = 30 * time.Second

// OSRunner runs commands on the host.
type OSRunner struct {
	// Grace is the SIGTERM-to-SIGKILL window on timeout.
	Grace time.Duration

	logger zerolog.Logger
}

// NewRunner returns an OSRunner with the default grace period.
func NewRunner() *OSRunner {
	return &OSRunner{
		Grace:  DefaultGrace,
		logger: logging.GetLogger("shell"),
	}
}

// Run implements Runner.
func (r *OSRunner) Run(ctx context.Context, cmd Command) error {
	c, err := r.prepare(ctx, cmd)
	if err != nil {
		return err
	}

	stdout, err := c.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to open stdout pipe")
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to open stderr pipe")
	}

	logging.LogCommand(cmd.Argv[0], cmd.Argv[1:])
	defer logging.LogDuration(time.Now(), cmd.Argv[0])

	if err := c.Start(); err != nil {
		return errors.Wrapf(err, errors.ErrRuleCommandFailed, "failed to start %q", cmd.Argv[0])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go r.streamLines(&wg, stdout, zerolog.InfoLevel, cmd.Argv[0])
	go r.streamLines(&wg, stderr, zerolog.WarnLevel, cmd.Argv[0])
	wg.Wait()

	return r.classify(ctx, cmd, c.Wait())
}

// Output implements Runner.
func (r *OSRunner) Output(ctx context.Context, cmd Command) (string, error) {
	c, err := r.prepare(ctx, cmd)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = io.Discard

	logging.LogCommand(cmd.Argv[0], cmd.Argv[1:])
	defer logging.LogDuration(time.Now(), cmd.Argv[0])

	if err := r.classify(ctx, cmd, c.Run()); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}

func (r *OSRunner) prepare(ctx context.Context, cmd Command) (*exec.Cmd, error) {
	if len(cmd.Argv) == 0 {
		return nil, errors.New(errors.ErrInvalidInput, "empty command")
	}

	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	// Graceful termination on context expiry: SIGTERM first, SIGKILL after
	// the grace window via WaitDelay.
	c.Cancel = func() error {
		return c.Process.Signal(syscall.SIGTERM)
	}
	c.WaitDelay = r.Grace
	if c.WaitDelay == 0 {
		c.WaitDelay = DefaultGrace
	}

	return c, nil
}

func (r *OSRunner) classify(ctx context.Context, cmd Command, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(err, errors.ErrRuleTimeout, "command %q exceeded its deadline", cmd.String()).
			WithDetail("argv", cmd.Argv)
	}
	return errors.Wrapf(err, errors.ErrRuleCommandFailed, "command %q failed", cmd.String()).
		WithDetail("argv", cmd.Argv)
}

func (r *OSRunner) streamLines(wg *sync.WaitGroup, src io.Reader, level zerolog.Level, program string) {
	defer wg.Done()
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.logger.WithLevel(level).Str("program", program).Msg(scanner.Text())
	}
}
