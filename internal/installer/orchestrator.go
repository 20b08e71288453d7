// Package installer builds and runs privileged driver transactions. A
// transaction is a Plan of shell commands handed to a root helper in one
// invocation, each command as its own argument.
package installer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ro-control/ro-control/internal/executor"
	"github.com/ro-control/ro-control/internal/logging"
	"github.com/ro-control/ro-control/internal/pkgmgr"
	"github.com/ro-control/ro-control/internal/probe"
)

var log = logging.L("installer")

const (
	DefaultPrivilegeProgram = "pkexec"
	DefaultHelperTask       = "ro-control-root-task"
)

// pkexec exit codes for a dismissed dialog and a refused authorization.
const (
	exitAuthDismissed = 126
	exitAuthRefused   = 127
)

var separator = strings.Repeat("-", 40)

var errEmptyPlan = errors.New("empty plan")

// SystemInfoSource supplies the diagnostic header. *probe.Prober implements it.
type SystemInfoSource interface {
	SystemInfo(ctx context.Context) probe.SystemInfo
}

// Orchestrator runs at most one transaction at a time per process.
type Orchestrator struct {
	runner   executor.Runner
	backend  pkgmgr.Backend
	sysinfo  SystemInfoSource
	program  string
	task     string
	tempDir  string
	now      func() time.Time
	inFlight atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPrivilegeHelper overrides the elevation program and helper task.
func WithPrivilegeHelper(program, task string) Option {
	return func(o *Orchestrator) {
		if program != "" {
			o.program = program
		}
		if task != "" {
			o.task = task
		}
	}
}

// WithTempDir sets where staged files are written. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(o *Orchestrator) {
		o.tempDir = dir
	}
}

// WithClock replaces time.Now for backup names and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator. runner must not impose a timeout: the helper
// blocks on the authentication dialog for as long as the user takes. backend
// is nil on unsupported distributions.
func New(runner executor.Runner, backend pkgmgr.Backend, sysinfo SystemInfoSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:  runner,
		backend: backend,
		sysinfo: sysinfo,
		program: DefaultPrivilegeProgram,
		task:    DefaultHelperTask,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Busy reports whether a transaction is running.
func (o *Orchestrator) Busy() bool {
	return o.inFlight.Load()
}

// InstallNVIDIA installs the NVIDIA driver of the given flavor, optionally
// pinned to a version. started is false when another transaction was already
// running; nothing was done in that case.
func (o *Orchestrator) InstallNVIDIA(ctx context.Context, flavor pkgmgr.Flavor, pinned string, sink chan<- Event) (out Outcome, started bool) {
	return o.transaction(ctx, sink, func(e *emitter) (*Plan, error) {
		e.line(fmt.Sprintf("--- STARTING: %s ---", nvidiaTitle(flavor)))
		e.line("Step 1: Backing up the current Xorg configuration...")
		e.line("Step 2: Blacklisting the nouveau driver...")
		e.line("Preparing NVIDIA packages...")
		if pinned != "" && o.backend != nil && pkgmgr.ValidateVersion(pinned) == nil {
			if o.backend.SupportsPinning() {
				e.line("Version pinned: " + pinned)
			} else {
				e.line(fmt.Sprintf("%s cannot pin versions; installing the current repository build.", o.backend.Name()))
			}
		}
		return o.BuildInstallPlan(flavor, pinned)
	})
}

// InstallAMD installs the open source Mesa stack.
func (o *Orchestrator) InstallAMD(ctx context.Context, sink chan<- Event) (Outcome, bool) {
	return o.transaction(ctx, sink, func(e *emitter) (*Plan, error) {
		e.line("--- STARTING: AMD Mesa (Open Source) ---")
		e.line("Step 1: Backing up the current Xorg configuration...")
		return o.BuildAMDPlan()
	})
}

// RemoveNVIDIA removes the NVIDIA driver and re-enables nouveau.
func (o *Orchestrator) RemoveNVIDIA(ctx context.Context, deepClean bool, sink chan<- Event) (Outcome, bool) {
	return o.transaction(ctx, sink, func(e *emitter) (*Plan, error) {
		e.line("--- STARTING: NVIDIA Driver Removal ---")
		if deepClean {
			e.line("Deep clean: leftover NVIDIA configuration will be deleted.")
		}
		return o.BuildRemovalPlan(deepClean)
	})
}

// Execute runs an already built plan as its own transaction.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan, sink chan<- Event) (Outcome, bool) {
	return o.transaction(ctx, sink, func(*emitter) (*Plan, error) {
		if plan == nil {
			return nil, errEmptyPlan
		}
		return plan, nil
	})
}

// transaction holds the in-flight flag for the whole operation. The flag is
// cleared before the Done event is sent, also when build or run panics.
func (o *Orchestrator) transaction(ctx context.Context, sink chan<- Event, build func(*emitter) (*Plan, error)) (out Outcome, started bool) {
	if !o.inFlight.CompareAndSwap(false, true) {
		log.Warn("transaction already in progress, request ignored")
		return Outcome{}, false
	}
	e := &emitter{sink: sink}
	defer func() {
		o.inFlight.Store(false)
		out.Log = e.lines
		e.done(out)
	}()

	// Caller cancellation is ignored from here on.
	ctx = context.WithoutCancel(ctx)

	e.state(Preparing)
	plan, err := build(e)
	if err != nil {
		return o.abort(e, err), true
	}
	defer func() {
		if cerr := plan.Close(); cerr != nil {
			log.Warn("failed to remove staged files", logging.KeyError, cerr)
		}
	}()
	return o.run(ctx, plan, e), true
}

func (o *Orchestrator) abort(e *emitter, err error) Outcome {
	switch {
	case errors.Is(err, ErrUnsupportedPackageManager):
		e.line("ERROR: Unsupported package manager!")
	case errors.Is(err, ErrInvalidVersion):
		e.line("ERROR: Invalid driver version, nothing was changed.")
	default:
		e.line("ERROR: " + err.Error())
	}
	log.Error("transaction aborted before execution", logging.KeyError, err)
	e.state(Failed)
	return Outcome{ExitCode: -1, Err: err}
}

func (o *Orchestrator) run(ctx context.Context, plan *Plan, e *emitter) Outcome {
	if len(plan.Commands) == 0 {
		return o.abort(e, errEmptyPlan)
	}
	oplog := logging.WithOperation(log, plan.Title, o.managerName())
	start := o.now()

	e.line(fmt.Sprintf("[%s] --- TRANSACTION STARTED: %s ---", start.Format("15:04:05"), plan.Title))
	o.diagnostics(ctx, e)
	e.line("[EXECUTION PLAN]")
	for i, cmd := range plan.Commands {
		e.line(fmt.Sprintf("%d. %s", i+1, cmd))
	}
	e.line(separator)

	e.state(AwaitingPrivilege)
	e.line("Waiting for authorization (root)...")
	e.line("Please enter your password in the dialog that opens.")

	args := append([]string{o.task}, plan.Commands...)
	oplog.Info("starting privileged transaction", "steps", len(plan.Commands))
	var executing, streamed bool
	markExecuting := func() {
		if !executing {
			executing = true
			e.state(Executing)
		}
	}
	var (
		res    executor.Result
		runErr error
	)
	if sr, ok := o.runner.(executor.StreamRunner); ok {
		// Helper stdout only appears once authorization has succeeded.
		res, runErr = sr.RunStreaming(ctx, func(line string) {
			markExecuting()
			if !streamed {
				streamed = true
				e.line("[Command Output]")
			}
			e.line(line)
		}, o.program, args...)
	} else {
		res, runErr = o.runner.Run(ctx, o.program, args...)
	}

	out := Outcome{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	denied := res.ExitCode == exitAuthDismissed || res.ExitCode == exitAuthRefused
	if runErr == nil && !denied {
		markExecuting()
	}

	if runErr != nil || !res.Success() {
		out.Err = &ExecutionError{ExitCode: res.ExitCode, Stderr: res.Stderr, Denied: denied}
		e.line("[!!! CRITICAL ERROR !!!]")
		e.line(fmt.Sprintf("Exit Code: %d", res.ExitCode))
		e.line("Command Output (STDERR):")
		if res.Stderr == "" {
			e.line("(No error output received)")
		} else {
			e.outputLines(res.Stderr)
		}
		e.line("ERROR: The operation failed.")
		oplog.Error("privileged transaction failed",
			"exitCode", res.ExitCode,
			"denied", denied,
			logging.KeyError, errors.Join(runErr, out.Err),
			logging.KeyDurationMs, o.now().Sub(start).Milliseconds())
		e.state(Failed)
		return out
	}

	if res.Stdout != "" && !streamed {
		e.line("[Command Output]")
		e.outputLines(res.Stdout)
	}
	e.line(fmt.Sprintf("SUCCESS: %s completed.", plan.Title))
	e.line("Restart the system for the changes to take effect.")
	oplog.Info("privileged transaction completed", logging.KeyDurationMs, o.now().Sub(start).Milliseconds())
	out.Success = true
	e.state(Succeeded)
	return out
}

func (o *Orchestrator) diagnostics(ctx context.Context, e *emitter) {
	if o.sysinfo == nil {
		return
	}
	info := o.sysinfo.SystemInfo(ctx)
	e.line("[SYSTEM DIAGNOSTIC REPORT]")
	e.line(fmt.Sprintf("OS: %s | Kernel: %s", info.OS.Name, info.Kernel))
	e.line(fmt.Sprintf("CPU: %s | RAM: %s", info.CPU, info.RAM))
	e.line(fmt.Sprintf("GPU: %s %s", info.GPU.Vendor, info.GPU.Model))
	e.line("Driver In Use: " + info.GPU.DriverInUse)
	e.line(separator)
}

func (o *Orchestrator) managerName() string {
	if o.backend == nil {
		return ""
	}
	return string(o.backend.Manager())
}

// emitter records the transcript and forwards events to the sink. Sends
// block; the receiver drains until EventDone.
type emitter struct {
	sink  chan<- Event
	lines []string
}

func (e *emitter) send(ev Event) {
	if e.sink != nil {
		e.sink <- ev
	}
}

func (e *emitter) line(s string) {
	e.lines = append(e.lines, s)
	e.send(Event{Kind: EventLog, Line: s})
}

// outputLines emits multi-line tool output one line at a time.
func (e *emitter) outputLines(text string) {
	for _, l := range strings.Split(text, "\n") {
		e.line(l)
	}
}

func (e *emitter) state(s State) {
	e.send(Event{Kind: EventState, State: s})
}

func (e *emitter) done(out Outcome) {
	e.send(Event{Kind: EventDone, Outcome: &out})
}
