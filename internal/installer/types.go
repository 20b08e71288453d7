package installer

import (
	"errors"
	"fmt"

	"github.com/ro-control/ro-control/internal/pkgmgr"
)

var (
	// ErrUnsupportedPackageManager aborts install and removal before any
	// command is built.
	ErrUnsupportedPackageManager = errors.New("unsupported package manager")

	// ErrInvalidVersion rejects a pinned version that is not digits and dots.
	ErrInvalidVersion = pkgmgr.ErrInvalidVersion
)

// ExecutionError reports a failed privileged transaction. Authentication that
// was cancelled or refused is reported the same way, with Denied set.
type ExecutionError struct {
	ExitCode int
	Stderr   string
	Denied   bool
}

func (e *ExecutionError) Error() string {
	if e.Denied {
		return fmt.Sprintf("authorization failed (exit code %d)", e.ExitCode)
	}
	return fmt.Sprintf("privileged helper exited with code %d", e.ExitCode)
}

// State is a step of the transaction state machine.
type State int

const (
	Idle State = iota
	Preparing
	AwaitingPrivilege
	Executing
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case AwaitingPrivilege:
		return "awaiting_privilege"
	case Executing:
		return "executing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// EventKind tags an Event.
type EventKind int

const (
	EventLog EventKind = iota
	EventState
	EventDone
)

// Event is one progress message. Exactly one field besides Kind is set:
// Line for EventLog, State for EventState and Outcome for EventDone.
type Event struct {
	Kind    EventKind
	Line    string
	State   State
	Outcome *Outcome
}

// Outcome is the result of one transaction.
type Outcome struct {
	Success  bool     `json:"success"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	Log      []string `json:"log"`
	// Err is nil on success. It wraps ErrUnsupportedPackageManager or
	// ErrInvalidVersion, or is an *ExecutionError.
	Err error `json:"-"`
}
