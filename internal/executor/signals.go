package executor

import (
	"os"
	"os/exec"
	"os/signal"
	"sync"
)

// shieldMu serializes the window in which shielded signals are ignored
// process-wide.
var shieldMu sync.Mutex

// WithSignalShield starts every child with sigs ignored. An ignored
// disposition survives exec, so the child and the programs it runs never see
// them; a terminal Ctrl-C reaches only this process. The parent's own
// handling is reset as soon as the child has started and restore, when not
// nil, is called to register it again (signal.Ignore drops earlier Notify
// registrations for sigs).
func WithSignalShield(restore func(), sigs ...os.Signal) Option {
	return func(e *Executor) {
		e.shielded = sigs
		e.restore = restore
	}
}

func (e *Executor) start(cmd *exec.Cmd) error {
	if len(e.shielded) == 0 {
		return cmd.Start()
	}
	shieldMu.Lock()
	defer shieldMu.Unlock()

	signal.Ignore(e.shielded...)
	defer func() {
		signal.Reset(e.shielded...)
		if e.restore != nil {
			e.restore()
		}
	}()
	return cmd.Start()
}
