// Package controller owns the state shown to the user. Background work runs on
// a worker pool; results come back as updates that are applied only when the
// owner calls Drain or Wait, so State needs no locking.
package controller

import (
	"context"

	"github.com/ro-control/ro-control/internal/installer"
	"github.com/ro-control/ro-control/internal/logging"
	"github.com/ro-control/ro-control/internal/monitor"
	"github.com/ro-control/ro-control/internal/pkgmgr"
	"github.com/ro-control/ro-control/internal/probe"
	"github.com/ro-control/ro-control/internal/resolver"
	"github.com/ro-control/ro-control/internal/workerpool"
)

var log = logging.L("controller")

const (
	progressStep = 5
	progressCap  = 90
	updateBuffer = 64
)

// Status is the coarse state of the application.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusDetecting  Status = "detecting"
	StatusReady      Status = "ready"
	StatusInstalling Status = "installing"
	StatusRemoving   Status = "removing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// State is everything the front-end renders.
type State struct {
	Status         Status
	System         probe.SystemInfo
	Versions       []resolver.DriverVersion
	VersionsLoaded bool
	Log            []string
	Progress       int
	Transaction    installer.State
	Outcome        *installer.Outcome
	Stats          monitor.Stats
	StatsValid     bool
}

// Prober supplies host information.
type Prober interface {
	SystemInfo(ctx context.Context) probe.SystemInfo
}

// VersionResolver supplies the ranked driver list.
type VersionResolver interface {
	Resolve(ctx context.Context) []resolver.DriverVersion
}

// Orchestrator runs privileged transactions.
type Orchestrator interface {
	Busy() bool
	InstallNVIDIA(ctx context.Context, flavor pkgmgr.Flavor, pinned string, sink chan<- installer.Event) (installer.Outcome, bool)
	InstallAMD(ctx context.Context, sink chan<- installer.Event) (installer.Outcome, bool)
	RemoveNVIDIA(ctx context.Context, deepClean bool, sink chan<- installer.Event) (installer.Outcome, bool)
}

// StatsSource samples live statistics.
type StatsSource interface {
	Refresh(ctx context.Context) (monitor.Stats, bool)
}

// Deps are the services a Controller drives.
type Deps struct {
	Prober       Prober
	Resolver     VersionResolver
	Orchestrator Orchestrator
	Monitor      StatsSource
}

type update func(*State)

// Controller must be used from a single goroutine, the owner. Only the
// submitted tasks run elsewhere.
type Controller struct {
	deps    Deps
	pool    *workerpool.Pool
	updates chan update
	state   State

	pending   int
	detecting bool
}

// New creates a Controller running tasks on pool.
func New(deps Deps, pool *workerpool.Pool) *Controller {
	return &Controller{
		deps:    deps,
		pool:    pool,
		updates: make(chan update, updateBuffer),
		state:   State{Status: StatusIdle},
	}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	s := c.state
	s.Log = append([]string(nil), c.state.Log...)
	s.Versions = append([]resolver.DriverVersion(nil), c.state.Versions...)
	return s
}

// Pending reports how many submitted tasks have not reported back yet.
func (c *Controller) Pending() int {
	return c.pending
}

// submit runs fn on the pool. fn posts its results; the completion update is
// posted after fn returns.
func (c *Controller) submit(name string, fn func(ctx context.Context, post func(update))) bool {
	post := func(u update) { c.updates <- u }
	ok := c.pool.Submit(name, func(ctx context.Context) {
		defer post(func(*State) { c.pending-- })
		fn(ctx, post)
	})
	if ok {
		c.pending++
	} else {
		log.Warn("task not accepted", "task", name)
	}
	return ok
}

// Detect probes the system. It is a no-op while a detection is running.
func (c *Controller) Detect() bool {
	if c.detecting {
		return false
	}
	prev := c.state.Status
	c.detecting = true
	c.state.Status = StatusDetecting
	ok := c.submit("detect", func(ctx context.Context, post func(update)) {
		// Runs after a panicking prober too.
		defer post(func(s *State) {
			c.detecting = false
			if s.Status == StatusDetecting {
				s.Status = prev
			}
		})
		info := c.deps.Prober.SystemInfo(ctx)
		post(func(s *State) {
			s.System = info
			s.Status = StatusReady
		})
	})
	if !ok {
		c.detecting = false
		c.state.Status = prev
	}
	return ok
}

// LoadVersions resolves the driver list.
func (c *Controller) LoadVersions() bool {
	return c.submit("versions", func(ctx context.Context, post func(update)) {
		versions := c.deps.Resolver.Resolve(ctx)
		post(func(s *State) {
			s.Versions = versions
			s.VersionsLoaded = true
		})
	})
}

// RefreshStats takes one statistics sample. Samples skipped by the monitor
// leave the previous one in place.
func (c *Controller) RefreshStats() bool {
	return c.submit("stats", func(ctx context.Context, post func(update)) {
		stats, ok := c.deps.Monitor.Refresh(ctx)
		if !ok {
			return
		}
		post(func(s *State) {
			s.Stats = stats
			s.StatsValid = true
		})
	})
}

// Install starts an NVIDIA installation. It returns false without doing
// anything when a transaction is already running.
func (c *Controller) Install(flavor pkgmgr.Flavor, pinned string) bool {
	return c.transaction("install", StatusInstalling, func(ctx context.Context, sink chan<- installer.Event) bool {
		_, started := c.deps.Orchestrator.InstallNVIDIA(ctx, flavor, pinned, sink)
		return started
	})
}

// InstallAMD starts the Mesa installation.
func (c *Controller) InstallAMD() bool {
	return c.transaction("install-amd", StatusInstalling, func(ctx context.Context, sink chan<- installer.Event) bool {
		_, started := c.deps.Orchestrator.InstallAMD(ctx, sink)
		return started
	})
}

// Remove starts the NVIDIA removal.
func (c *Controller) Remove(deepClean bool) bool {
	return c.transaction("remove", StatusRemoving, func(ctx context.Context, sink chan<- installer.Event) bool {
		_, started := c.deps.Orchestrator.RemoveNVIDIA(ctx, deepClean, sink)
		return started
	})
}

func (c *Controller) transaction(name string, status Status, run func(context.Context, chan<- installer.Event) bool) bool {
	if c.deps.Orchestrator.Busy() {
		log.Info("transaction already running", "task", name)
		return false
	}
	prev := c.state
	c.state.Status = status
	c.state.Log = nil
	c.state.Progress = 0
	c.state.Outcome = nil
	c.state.Transaction = installer.Idle

	ok := c.submit(name, func(ctx context.Context, post func(update)) {
		events := make(chan installer.Event, updateBuffer)
		started := make(chan bool, 1)
		go func() {
			defer close(events)
			defer func() {
				if r := recover(); r != nil {
					log.Error("transaction panicked", "task", name, "panic", r)
					started <- true
				}
			}()
			started <- run(ctx, events)
		}()
		for ev := range events {
			post(func(s *State) { applyEvent(s, ev) })
		}
		if !<-started {
			post(func(s *State) {
				s.Status = prev.Status
				s.Log = append(s.Log, "Another operation is already in progress.")
			})
		}
	})
	if !ok {
		c.state = prev
	}
	return ok
}

func applyEvent(s *State, ev installer.Event) {
	switch ev.Kind {
	case installer.EventLog:
		s.Log = append(s.Log, ev.Line)
		s.Progress = min(s.Progress+progressStep, progressCap)
	case installer.EventState:
		s.Transaction = ev.State
	case installer.EventDone:
		s.Outcome = ev.Outcome
		if ev.Outcome != nil && ev.Outcome.Success {
			s.Progress = 100
			s.Status = StatusComplete
		} else {
			s.Progress = 0
			s.Status = StatusFailed
		}
	}
}

// Drain applies every update that has already arrived and returns how many
// were applied. It never blocks.
func (c *Controller) Drain() int {
	n := 0
	for {
		select {
		case u := <-c.updates:
			u(&c.state)
			n++
		default:
			return n
		}
	}
}

// Wait applies updates until every submitted task has reported back.
func (c *Controller) Wait(ctx context.Context) error {
	for c.pending > 0 {
		select {
		case u := <-c.updates:
			u(&c.state)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.Drain()
	return nil
}
