package work

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distcomm/memstore"
	"distcomm/pgapi"
	"distcomm/simbackend"
)

type fakeEvent struct {
	mu    sync.Mutex
	ready bool
}

func (e *fakeEvent) Record(s pgapi.Stream) error { return nil }
func (e *fakeEvent) Query() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready, nil
}
func (e *fakeEvent) Wait(s pgapi.Stream) error { return nil }
func (e *fakeEvent) Synchronize() error        { return nil }

func (e *fakeEvent) setReady(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = v
}

type fakeComm struct {
	mu       sync.Mutex
	asyncErr error
	aborted  bool
}

func (c *fakeComm) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
	return nil
}
func (c *fakeComm) CheckAsyncError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asyncErr
}
func (c *fakeComm) setAsyncErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asyncErr = err
}
func (c *fakeComm) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

func TestIsCompletedFalseUntilEventsReady(t *testing.T) {
	ev := &fakeEvent{}
	w := New(Config{
		Devices: []int{0},
		Events:  []pgapi.Event{ev},
		Comms:   []pgapi.Communicator{&fakeComm{}},
		Driver:  simbackend.NewDriver(),
		Store:   memstore.New(),
	})

	assert.False(t, w.IsCompleted())
	ev.setReady(true)
	assert.True(t, w.IsCompleted())
	assert.True(t, w.IsSuccess())
}

func TestIsCompletedTrueOnAsyncError(t *testing.T) {
	comm := &fakeComm{}
	w := New(Config{
		Devices: []int{0},
		Events:  []pgapi.Event{&fakeEvent{}},
		Comms:   []pgapi.Communicator{comm},
		Driver:  simbackend.NewDriver(),
		Store:   memstore.New(),
	})

	comm.setAsyncErr(assertErr{})
	assert.True(t, w.IsCompleted())
	assert.False(t, w.IsSuccess())
	assert.True(t, pgapi.IsKind(w.Err(), pgapi.VendorAsyncError))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestSynchronizeNonBlockingReturnsImmediatelyWithoutEventReady(t *testing.T) {
	w := New(Config{
		Devices: []int{0},
		Events:  []pgapi.Event{&fakeEvent{}},
		Comms:   []pgapi.Communicator{&fakeComm{}},
		Driver:  simbackend.NewDriver(),
		Store:   memstore.New(),
		Blocking: false,
	})
	assert.NoError(t, w.Synchronize())
}

func TestSynchronizeBlockingSucceedsOnceEventReady(t *testing.T) {
	ev := &fakeEvent{}
	w := New(Config{
		Devices:  []int{0},
		Events:   []pgapi.Event{ev},
		Comms:    []pgapi.Communicator{&fakeComm{}},
		Driver:   simbackend.NewDriver(),
		Store:    memstore.New(),
		Blocking: true,
		Timeout:  time.Second,
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		ev.setReady(true)
	}()

	assert.NoError(t, w.Synchronize())
}

func TestSynchronizeBlockingTimesOutAndPublishesAbortMarker(t *testing.T) {
	comm := &fakeComm{}
	store := memstore.New()
	w := New(Config{
		Devices:   []int{0},
		Events:    []pgapi.Event{&fakeEvent{}},
		Comms:     []pgapi.Communicator{comm},
		CommHexes: []string{"deadbeef"},
		Driver:    simbackend.NewDriver(),
		Store:     store,
		Blocking:  true,
		Timeout:   20 * time.Millisecond,
	})

	err := w.Synchronize()
	require.Error(t, err)
	assert.True(t, pgapi.IsKind(err, pgapi.Timeout))
	assert.True(t, comm.isAborted())

	_, getErr := store.Get(pgapi.AbortedCommStoreKey("deadbeef"))
	assert.NoError(t, getErr)
}

func TestWaitDelegatesToSynchronize(t *testing.T) {
	ev := &fakeEvent{ready: true}
	w := New(Config{
		Devices: []int{0},
		Events:  []pgapi.Event{ev},
		Comms:   []pgapi.Communicator{&fakeComm{}},
		Driver:  simbackend.NewDriver(),
		Store:   memstore.New(),
	})
	assert.NoError(t, w.Wait())
}
