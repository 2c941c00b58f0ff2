// Package work implements the async Work object returned by every
// collective: a group of per-device completion events plus the
// communicators and policy (timeout, blocking-wait) needed to turn "has the
// device finished" into a host-visible completion and, in blocking mode, a
// bounded wait that aborts on timeout.
package work

import (
	"sync"
	"time"

	"distcomm/pgapi"
)

// pollInterval is the coarse sleep between is-completed checks in the
// blocking-wait busy loop; the timeout itself is what bounds total wait
// time, not this interval's granularity.
const pollInterval = 5 * time.Millisecond

// Store is the slice of pgapi.Store the Work needs to publish abort
// markers on timeout.
type Store interface {
	Set(key string, value []byte) error
}

// Work represents one submitted collective. It is created by collective.Driver
// and returned to the caller; Synchronize/Wait are the only methods a caller
// outside this package's tests is expected to call.
type Work struct {
	devices        []int
	events         []pgapi.Event
	comms          []pgapi.Communicator
	commHexes      []string
	driver         pgapi.Driver
	store          Store
	start          time.Time
	timeout        time.Duration
	blocking       bool
	barrierTensors []pgapi.Tensor

	mu  sync.Mutex
	err error
}

// Config bundles the construction-time fields of a Work. CommHexes must be
// the same length and order as Comms: the UniqueIdHex of the communicator
// in the matching slot, needed to publish an abort marker on timeout.
type Config struct {
	Devices        []int
	Events         []pgapi.Event
	Comms          []pgapi.Communicator
	CommHexes      []string
	Driver         pgapi.Driver
	Store          Store
	Timeout        time.Duration
	Blocking       bool
	BarrierTensors []pgapi.Tensor
}

func New(cfg Config) *Work {
	return &Work{
		devices:        cfg.Devices,
		events:         cfg.Events,
		comms:          cfg.Comms,
		commHexes:      cfg.CommHexes,
		driver:         cfg.Driver,
		store:          cfg.Store,
		start:          time.Now(),
		timeout:        cfg.Timeout,
		blocking:       cfg.Blocking,
		barrierTensors: cfg.BarrierTensors,
	}
}

// IsCompleted checks the error slot; if unset, it consults every held
// communicator for an asynchronous error and latches the first one found.
// It returns true if an error is present (of either origin) or every
// per-device completion event reports ready.
func (w *Work) IsCompleted() bool {
	w.mu.Lock()
	if w.err != nil {
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()

	if err := w.pollAsyncError(); err != nil {
		return true
	}

	for _, e := range w.events {
		ready, err := e.Query()
		if err != nil {
			w.setErr(pgapi.Wrap(pgapi.DriverError, err, "work: query completion event"))
			return true
		}
		if !ready {
			return false
		}
	}
	return true
}

// IsSuccess reports true iff the error slot is empty, there is no fresh
// asynchronous error, and every completion event is ready.
func (w *Work) IsSuccess() bool {
	if err := w.pollAsyncError(); err != nil {
		return false
	}
	w.mu.Lock()
	hasErr := w.err != nil
	w.mu.Unlock()
	if hasErr {
		return false
	}
	for _, e := range w.events {
		ready, err := e.Query()
		if err != nil || !ready {
			return false
		}
	}
	return true
}

// Err returns the captured error, if any.
func (w *Work) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Work) pollAsyncError() error {
	w.mu.Lock()
	if w.err != nil {
		defer w.mu.Unlock()
		return w.err
	}
	w.mu.Unlock()

	for _, c := range w.comms {
		if err := c.CheckAsyncError(); err != nil {
			wrapped := pgapi.Wrap(pgapi.VendorAsyncError, err, "work: communicator reported asynchronous error")
			w.setErr(wrapped)
			return wrapped
		}
	}
	return nil
}

func (w *Work) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Synchronize makes each device's current stream wait on its completion
// event, device-synchronizes per device if this Work backs a barrier, and
// then, only in blocking-wait mode, busy-waits in coarse polls until
// completed, aborting this Work's communicators and publishing an abort
// marker if the timeout elapses first.
func (w *Work) Synchronize() error {
	for i, d := range w.devices {
		cur, err := w.driver.CurrentStream(d)
		if err != nil {
			return pgapi.Wrap(pgapi.DriverError, err, "work: get current stream")
		}
		if err := w.events[i].Wait(cur); err != nil {
			return pgapi.Wrap(pgapi.DriverError, err, "work: current stream wait on completion event")
		}
	}
	if len(w.barrierTensors) > 0 {
		for _, d := range w.devices {
			if err := w.driver.DeviceSynchronize(d); err != nil {
				return pgapi.Wrap(pgapi.DriverError, err, "work: device synchronize for barrier")
			}
		}
	}

	if !w.blocking {
		if err := w.pollAsyncError(); err != nil {
			return err
		}
		return nil
	}

	for {
		if err := w.checkTimeout(); err != nil {
			return err
		}
		if err := w.pollAsyncError(); err != nil {
			return err
		}
		if w.IsCompleted() {
			return w.Err()
		}
		time.Sleep(pollInterval)
	}
}

// checkTimeout aborts every communicator this Work holds and publishes an
// abort marker for each once elapsed time exceeds the configured timeout.
func (w *Work) checkTimeout() error {
	if w.timeout <= 0 || time.Since(w.start) < w.timeout {
		return nil
	}
	for _, c := range w.comms {
		_ = c.Abort()
	}
	for _, hex := range w.commHexes {
		_ = w.store.Set(pgapi.AbortedCommStoreKey(hex), nil)
	}
	timeoutErr := pgapi.Newf(pgapi.Timeout, "work: timed out after %s", w.timeout)
	w.setErr(timeoutErr)
	return timeoutErr
}

// SetBarrierTensors attaches the placeholder tensors a barrier's Work was
// submitted with, so Synchronize knows to device-synchronize and keeps them
// alive for the duration of the Work. Must be called before the Work is
// handed to any other goroutine.
func (w *Work) SetBarrierTensors(ts []pgapi.Tensor) {
	w.barrierTensors = ts
}

// Wait is Synchronize followed by returning success; host-side abort is not
// supported; callers that give up on a Work must drop it and rely on the
// watchdog or this timeout path to recover shared state.
func (w *Work) Wait() error {
	return w.Synchronize()
}
