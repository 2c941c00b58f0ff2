package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distcomm/commcache"
	"distcomm/memstore"
	"distcomm/pgapi"
	"distcomm/simbackend"
)

func buildGroup(t *testing.T, cache *commcache.Cache, lib pgapi.CommLib, store pgapi.Store, rank, size int) (pgapi.DeviceKey, *simbackend.Communicator) {
	key := pgapi.MakeDeviceKey([]int{0})
	group, err := cache.GetOrCreate(key, []int{0}, commcache.Deps{
		CommLib: lib,
		Driver:  simbackend.NewDriver(),
		Streams: simbackend.NewStreamPool(),
		Store:   store,
		Rank:    rank,
		Size:    size,
	})
	require.NoError(t, err)
	comm, ok := group[0].(*simbackend.Communicator)
	require.True(t, ok)
	return key, comm
}

func TestTickAbortsLocallyOnAsyncErrorWhenBlocking(t *testing.T) {
	cache := commcache.New()
	lib := simbackend.NewCommLib()
	store := memstore.New()
	_, comm := buildGroup(t, cache, lib, store, 0, 1)

	w := New(cache, store, true, nil)
	comm.InjectAsyncError(assertErr{})

	w.tick()

	assert.True(t, comm.Aborted())
	assert.NotEmpty(t, cache.AbortedHexes())
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestTickDoesNotAbortWhenNotBlocking(t *testing.T) {
	cache := commcache.New()
	lib := simbackend.NewCommLib()
	store := memstore.New()
	_, comm := buildGroup(t, cache, lib, store, 0, 1)

	w := New(cache, store, false, nil)
	comm.InjectAsyncError(assertErr{})

	w.tick()

	assert.False(t, comm.Aborted())
	assert.Empty(t, cache.AbortedHexes())
}

func TestTickPublishesAbortMarkerToStore(t *testing.T) {
	cache := commcache.New()
	lib := simbackend.NewCommLib()
	store := memstore.New()
	key, comm := buildGroup(t, cache, lib, store, 0, 1)
	comm.InjectAsyncError(assertErr{})

	w := New(cache, store, true, nil)
	w.tick()

	hex, ok := cache.Hex(key)
	require.True(t, ok)
	assert.NoError(t, store.Wait([]string{pgapi.AbortedCommStoreKey(hex)}, 100*time.Millisecond))
}

func TestTickObservesPeerAbortMarkerAndAbortsLocally(t *testing.T) {
	cache := commcache.New()
	lib := simbackend.NewCommLib()
	store := memstore.New()
	key, comm := buildGroup(t, cache, lib, store, 0, 1)

	hex, ok := cache.Hex(key)
	require.True(t, ok)
	require.NoError(t, store.Set(pgapi.AbortedCommStoreKey(hex), nil))

	w := New(cache, store, true, nil)
	w.tick()

	assert.True(t, comm.Aborted())
	assert.Contains(t, cache.AbortedHexes(), hex)
}

func TestStopWakesRunLoop(t *testing.T) {
	cache := commcache.New()
	store := memstore.New()
	w := New(cache, store, true, nil)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	w.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not stop after Stop()")
	}
}
