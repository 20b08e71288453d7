// Package executor runs external programs with bounded output capture. Every
// argument is passed to the child as its own argv element; nothing here
// builds a shell string.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ro-control/ro-control/internal/logging"
)

var log = logging.L("executor")

const (
	// DefaultTimeout bounds probe and query commands.
	DefaultTimeout = 2 * time.Minute

	// MaxOutputSize is the maximum size of stdout/stderr to capture
	MaxOutputSize = 1024 * 1024 // 1MB
)

// ErrTimeout is returned when a command exceeds its timeout and is killed.
var ErrTimeout = errors.New("command timed out")

// Result holds the outcome of a finished process. ExitCode is -1 when the
// process could not be started or was killed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the process exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes programs. Implementations must not route args through a shell.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
	LookPath(name string) bool
}

// StreamRunner is a Runner that can report stdout lines before the program
// exits.
type StreamRunner interface {
	Runner
	RunStreaming(ctx context.Context, onLine func(string), name string, args ...string) (Result, error)
}

// Executor is the os/exec backed Runner.
type Executor struct {
	timeout    time.Duration
	env        []string
	foreground bool
	shielded   []os.Signal
	restore    func()
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout sets the per-command timeout. Zero disables it, which is what
// privileged runs use: the helper may wait on an authentication prompt
// indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithForeground keeps the child in the caller's process group so a textual
// polkit agent can read the controlling terminal.
func WithForeground() Option {
	return func(e *Executor) {
		e.foreground = true
	}
}

// WithEnv appends KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) Option {
	return func(e *Executor) {
		e.env = append(e.env, env...)
	}
}

// New creates an Executor. Output is forced to the C locale so parsers see
// untranslated tool output.
func New(opts ...Option) *Executor {
	e := &Executor{
		timeout: DefaultTimeout,
		env:     []string{"LC_ALL=C"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LookPath reports whether name resolves to an executable in PATH.
func (e *Executor) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Run executes name with args and waits for it. A non-zero exit is not an
// error; it is reported through Result.ExitCode. Errors mean the process
// could not be started or timed out.
func (e *Executor) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return e.run(ctx, nil, name, args)
}

// RunStreaming is Run that also hands every stdout line to onLine while the
// program runs. onLine is called from a single goroutine and never after
// RunStreaming returns.
func (e *Executor) RunStreaming(ctx context.Context, onLine func(string), name string, args ...string) (Result, error) {
	return e.run(ctx, onLine, name, args)
}

func (e *Executor) run(ctx context.Context, onLine func(string), name string, args []string) (Result, error) {
	result := Result{ExitCode: -1}
	start := time.Now()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: MaxOutputSize}
	var lines *lineWriter
	if onLine != nil {
		lines = &lineWriter{emit: onLine}
		cmd.Stdout = io.MultiWriter(cmd.Stdout, lines)
	}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: MaxOutputSize}
	cmd.Env = append(os.Environ(), e.env...)

	// Set process group so children are killed on timeout
	if !e.foreground {
		setProcessGroup(cmd)
	}

	log.Debug("running command", "program", name, "args", len(args))
	err := e.start(cmd)
	if err == nil {
		err = cmd.Wait()
	}
	if lines != nil {
		lines.flush()
	}

	result.Stdout = strings.TrimSpace(stdout.String())
	result.Stderr = strings.TrimSpace(stderr.String())

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			if killErr := killProcessGroup(cmd); killErr != nil {
				log.Warn("failed to kill process group", "program", name, "error", killErr)
			}
			log.Warn("command timed out", "program", name, "timeout", e.timeout)
			return result, fmt.Errorf("%s: %w after %s", name, ErrTimeout, e.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			log.Debug("command exited", "program", name, "exitCode", result.ExitCode, logging.KeyDurationMs, time.Since(start).Milliseconds())
			return result, nil
		}
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
		return result, fmt.Errorf("run %s: %w", name, err)
	}

	result.ExitCode = 0
	log.Debug("command completed", "program", name, logging.KeyDurationMs, time.Since(start).Milliseconds())
	return result, nil
}

// Output runs name and returns its trimmed stdout when it exits 0. Failures
// of any kind collapse to ok=false; callers treat the tool as unavailable.
func Output(ctx context.Context, r Runner, name string, args ...string) (string, bool) {
	result, err := r.Run(ctx, name, args...)
	if err != nil {
		log.Debug("command failed", "program", name, "error", err)
		return "", false
	}
	if !result.Success() {
		log.Debug("command failed", "program", name, "exitCode", result.ExitCode, "stderr", result.Stderr)
		return "", false
	}
	if result.Stderr != "" {
		log.Debug("command warning", "program", name, "stderr", result.Stderr)
	}
	return result.Stdout, true
}

// limitedWriter wraps a buffer with a size limit
type limitedWriter struct {
	buf     *bytes.Buffer
	limit   int
	written int
}

func (w *limitedWriter) Write(p []byte) (n int, err error) {
	if w.written >= w.limit {
		// Discard additional data but don't error
		return len(p), nil
	}

	remaining := w.limit - w.written
	if len(p) > remaining {
		p = p[:remaining]
	}

	n, err = w.buf.Write(p)
	w.written += n
	return len(p), err // Return original length to avoid short write errors
}

// lineWriter splits a byte stream into lines without the trailing newline.
type lineWriter struct {
	emit    func(string)
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimRight(string(w.pending[:i]), "\r"))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.pending) > 0 {
		w.emit(strings.TrimRight(string(w.pending), "\r"))
		w.pending = nil
	}
}

var _ StreamRunner = (*Executor)(nil)
