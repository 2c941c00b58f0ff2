// Package watchdog implements the background loop that scans the
// communicator cache for asynchronous errors, aborts affected
// communicators locally, and propagates aborts across ranks through the
// rendezvous store.
package watchdog

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"distcomm/commcache"
	"distcomm/pgapi"
)

// tickInterval is the watchdog's steady-state sleep between scans.
const tickInterval = 10 * time.Second

// storeWaitTimeout bounds how long one tick waits on any single
// not-yet-locally-aborted UniqueIdHex before moving on to the next.
const storeWaitTimeout = time.Second

// Watchdog runs Run in its own goroutine for the lifetime of a
// ProcessGroup; Stop requests termination and wakes the sleep early.
type Watchdog struct {
	cache    *commcache.Cache
	store    pgapi.Store
	blocking bool
	log      *logrus.Entry

	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool
}

func New(cache *commcache.Cache, store pgapi.Store, blocking bool, logger *logrus.Logger) *Watchdog {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	w := &Watchdog{
		cache:    cache,
		store:    store,
		blocking: blocking,
		log:      logger.WithField("component", "watchdog"),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Run executes the scan loop until Stop is called. Run is intended to be
// the body of the watchdog goroutine; it returns once stopped.
func (w *Watchdog) Run() {
	for {
		w.safeTick()

		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		timer := time.AfterFunc(tickInterval, func() {
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		})
		w.cond.Wait()
		timer.Stop()
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}
	}
}

// Stop requests the loop to terminate and wakes it if it is sleeping.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// safeTick runs one scan, recovering from any panic so a bug in this loop
// terminates only the watchdog goroutine, never the process.
func (w *Watchdog) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("panic", r).Error("watchdog: recovered from panic in scan iteration, stopping")
			w.mu.Lock()
			w.stopped = true
			w.mu.Unlock()
		}
	}()
	w.tick()
}

func (w *Watchdog) tick() {
	var newlyAborted []string

	w.cache.ForEachGroup(func(key pgapi.DeviceKey, hex string, group commcache.CommunicatorGroup) {
		if w.cache.IsAborted(hex) {
			return
		}
		if !w.groupHasAsyncError(group) {
			return
		}
		entry := w.log.WithFields(logrus.Fields{"device_key": string(key), "comm_id": hex})
		if !w.blocking {
			entry.Warn("watchdog: asynchronous error observed, blocking wait disabled, not aborting")
			return
		}
		for _, c := range group {
			_ = c.Abort()
		}
		if w.cache.MarkAborted(hex) {
			newlyAborted = append(newlyAborted, hex)
			entry.Warn("watchdog: aborted communicator after asynchronous error")
		}
	})

	if !w.blocking {
		return
	}

	for _, hex := range newlyAborted {
		if err := w.store.Set(pgapi.AbortedCommStoreKey(hex), nil); err != nil {
			w.log.WithFields(logrus.Fields{"comm_id": hex}).WithError(err).
				Error("watchdog: failed to publish abort marker")
		}
	}

	for _, hex := range w.cache.AllHexes() {
		if w.cache.IsAborted(hex) {
			continue
		}
		if err := w.store.Wait([]string{pgapi.AbortedCommStoreKey(hex)}, storeWaitTimeout); err != nil {
			continue
		}
		group, ok := w.cache.GroupByHex(hex)
		if !ok {
			continue
		}
		for _, c := range group {
			_ = c.Abort()
		}
		w.cache.MarkAborted(hex)
		w.log.WithFields(logrus.Fields{"comm_id": hex}).
			Warn("watchdog: aborted communicator observed from peer via store")
	}
}

func (w *Watchdog) groupHasAsyncError(group commcache.CommunicatorGroup) bool {
	for _, c := range group {
		if err := c.CheckAsyncError(); err != nil {
			return true
		}
	}
	return false
}
