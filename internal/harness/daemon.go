package harness

import (
	"sync"
	"sync/atomic"
	"time"

	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
	"github.com/streamhaus/floodline/internal/harness/logging"
)

// DefaultStopTimeout bounds how long Stop waits for a loop to exit
// before giving up on the wait. The loop itself is never killed.
const DefaultStopTimeout = time.Second

// State is a daemon lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Daemon is the lifecycle contract the engines implement. Start is
// non-blocking; Stop asserts a one-shot stop signal and waits a
// bounded time for the loop to finish on its own.
type Daemon interface {
	Stop() error
	Done() <-chan struct{}
	State() State
	Err() error
}

// daemonCore carries the lifecycle shared by every engine: state
// transitions, the one-shot stop signal, the completion broadcast and
// the bounded stop wait.
type daemonCore struct {
	name        string
	log         logging.Logger
	stopTimeout time.Duration

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	errMu sync.Mutex
	err   error
}

func newDaemonCore(name string, stopTimeout time.Duration, log logging.Logger) *daemonCore {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	if log == nil {
		log = logging.Nop()
	}
	return &daemonCore{
		name:        name,
		log:         log,
		stopTimeout: stopTimeout,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// launch moves the daemon to Running and runs fn on its own goroutine.
// The daemon reaches Stopped when fn returns; fn's error is kept for
// Err. A second launch fails with ErrAlreadyStarted.
func (d *daemonCore) launch(fn func() error) error {
	if !d.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return flerrors.ErrAlreadyStarted
	}
	go func() {
		err := fn()
		d.errMu.Lock()
		d.err = err
		d.errMu.Unlock()
		d.state.Store(int32(StateStopped))
		close(d.done)
	}()
	return nil
}

// requestStop asserts the stop signal. Only the first call has any
// effect; the loop observes the signal at its checkpoints.
func (d *daemonCore) requestStop() {
	d.stopOnce.Do(func() {
		d.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(d.stop)
	})
}

// Stop asserts the stop signal and waits up to the stop timeout for
// the loop to exit. On timeout it logs a warning and returns
// ErrStopTimeout; the loop keeps running and Done still closes when it
// eventually exits.
func (d *daemonCore) Stop() error {
	d.requestStop()
	select {
	case <-d.done:
		return d.Err()
	case <-time.After(d.stopTimeout):
		d.log.Error("Daemon did not stop in time", flerrors.ErrStopTimeout, logging.LogFields{
			"daemon":  d.name,
			"timeout": d.stopTimeout.String(),
		})
		return flerrors.ErrStopTimeout
	}
}

// stopping reports whether the stop signal has been asserted.
func (d *daemonCore) stopping() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

// Done closes when the work loop has fully exited.
func (d *daemonCore) Done() <-chan struct{} { return d.done }

func (d *daemonCore) State() State { return State(d.state.Load()) }

// Err returns the loop's exit error. Meaningful once Done is closed.
func (d *daemonCore) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}
