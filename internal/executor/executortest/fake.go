// Package executortest provides a scripted executor.Runner for tests.
package executortest

import (
	"context"
	"strings"
	"sync"

	"github.com/ro-control/ro-control/internal/executor"
)

// Call records one Run invocation.
type Call struct {
	Name string
	Args []string
}

// Line renders the call space-joined, for matching in assertions only.
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is what Run returns for a matching command.
type Response struct {
	Result executor.Result
	Err    error
}

// Runner replays canned responses keyed by the space-joined command line.
// Unknown commands fail to start, like a missing binary.
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	programs  map[string]Response
	missing   map[string]bool
	calls     []Call

	// OnRun, when set, runs before the response lookup. It may block.
	OnRun func(ctx context.Context, c Call)
}

// New creates an empty Runner where every program is on PATH.
func New() *Runner {
	return &Runner{
		responses: make(map[string]Response),
		programs:  make(map[string]Response),
		missing:   make(map[string]bool),
	}
}

// Set registers stdout for a command that exits 0.
func (r *Runner) Set(line, stdout string) *Runner {
	return r.SetResult(line, executor.Result{ExitCode: 0, Stdout: stdout})
}

// SetResult registers a full result for a command.
func (r *Runner) SetResult(line string, result executor.Result) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[line] = Response{Result: result}
	return r
}

// SetProgram registers a result for every invocation of name that has no
// exact command line match.
func (r *Runner) SetProgram(name string, result executor.Result) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[name] = Response{Result: result}
	return r
}

// SetError makes a command fail to start.
func (r *Runner) SetError(line string, err error) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[line] = Response{Result: executor.Result{ExitCode: -1, Stderr: err.Error()}, Err: err}
	return r
}

// Missing marks a program as absent from PATH.
func (r *Runner) Missing(names ...string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.missing[n] = true
	}
	return r
}

func (r *Runner) LookPath(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.missing[name]
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) (executor.Result, error) {
	c := Call{Name: name, Args: append([]string(nil), args...)}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	hook := r.OnRun
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missing[name] {
		return executor.Result{ExitCode: -1, Stderr: "executable file not found"}, errNotFound{name}
	}
	resp, ok := r.responses[c.Line()]
	if !ok {
		resp, ok = r.programs[name]
	}
	if !ok {
		return executor.Result{ExitCode: -1, Stderr: "no scripted response"}, errNotFound{name}
	}
	return resp.Result, resp.Err
}

// RunStreaming runs like Run, then replays the scripted stdout to onLine one
// line at a time.
func (r *Runner) RunStreaming(ctx context.Context, onLine func(string), name string, args ...string) (executor.Result, error) {
	res, err := r.Run(ctx, name, args...)
	if err == nil && res.Stdout != "" {
		for _, line := range strings.Split(res.Stdout, "\n") {
			onLine(line)
		}
	}
	return res, err
}

// Calls returns a copy of every recorded invocation.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the invocations of one program.
func (r *Runner) CallsTo(name string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

type errNotFound struct{ name string }

func (e errNotFound) Error() string { return "exec: " + e.name + ": not scripted" }

var _ executor.StreamRunner = (*Runner)(nil)
