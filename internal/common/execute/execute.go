// Package execute runs external tools for steward. The installer, package,
// and disk-image layers all shell out to system utilities; this package gives
// them one way to do it, with captured or streamed output and an optional
// wall-clock timeout.
package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/stewardproject/steward/internal/common/logging"
)

// drainGrace bounds how long a finished (or killed) command's output pipes
// may stay open before they are forcibly closed. Without it, a killed tool
// whose descendants inherited the pipes would keep Run blocked for the
// descendants' full lifetime.
const drainGrace = time.Second

var (
	// ErrTimeout is returned when a process exceeds its wall-clock timeout
	ErrTimeout = errors.New("process timed out")
	// ErrNotLaunched is returned when the process could not be started
	ErrNotLaunched = errors.New("process could not be launched")
)

// Result holds the outcome of a finished process. A non-zero exit status is
// reported here, not as an error: callers decide what an exit code means.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner describes a single external command. Zero-value fields are ignored.
// OnStdout and OnStderr, when set, receive output one line at a time as the
// process produces it; captured output in Result is unaffected.
type Runner struct {
	Path     string
	Args     []string
	Dir      string
	Env      []string
	Stdin    string
	Timeout  time.Duration
	OnStdout func(line string)
	OnStderr func(line string)
}

// Run starts the command and blocks until it exits, the timeout elapses, or
// ctx is cancelled. Output copying is left to the exec package's own
// goroutines; WaitDelay keeps a fired timeout from stretching into the
// lifetime of descendants still holding the pipes.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.Timeout, ErrTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Path, r.Args...)
	cmd.Dir = r.Dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	if r.Stdin != "" {
		cmd.Stdin = strings.NewReader(r.Stdin)
	}

	outWriter := &lineWriter{sink: r.OnStdout}
	errWriter := &lineWriter{sink: r.OnStderr}
	cmd.Stdout = outWriter
	cmd.Stderr = errWriter
	cmd.WaitDelay = drainGrace

	logging.Debugf("running %s %s", r.Path, strings.Join(r.Args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotLaunched, err)
	}

	waitErr := cmd.Wait()
	outWriter.flush()
	errWriter.flush()

	result := &Result{
		Stdout: outWriter.String(),
		Stderr: errWriter.String(),
	}

	if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
		return result, fmt.Errorf("%s: %w after %s", r.Path, ErrTimeout, r.Timeout)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// the tool itself exited cleanly; an orphan merely held the
		// pipes open past the grace period
		waitErr = nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, waitErr
	}
	return result, nil
}

// lineWriter captures everything written to it while forwarding each
// complete line to sink as it arrives.
type lineWriter struct {
	buf     strings.Builder
	partial strings.Builder
	sink    func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.buf.Write(p)
	if w.sink == nil {
		return n, nil
	}
	for {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.partial.Write(p)
			return n, nil
		}
		w.partial.Write(p[:i])
		w.sink(w.partial.String())
		w.partial.Reset()
		p = p[i+1:]
	}
}

// flush forwards a final unterminated line to the sink.
func (w *lineWriter) flush() {
	if w.sink != nil && w.partial.Len() > 0 {
		w.sink(w.partial.String())
		w.partial.Reset()
	}
}

func (w *lineWriter) String() string { return w.buf.String() }

// Run executes a command with no stdin and no timeout, returning its result.
func Run(ctx context.Context, path string, args ...string) (*Result, error) {
	r := &Runner{Path: path, Args: args}
	return r.Run(ctx)
}

// Output runs a command and returns its stdout. A non-zero exit status is an
// error here, with stderr folded into the message.
func Output(ctx context.Context, path string, args ...string) (string, error) {
	result, err := Run(ctx, path, args...)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return result.Stdout, fmt.Errorf("%s exited %d: %s",
			path, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result.Stdout, nil
}
