package commcache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distcomm/memstore"
	"distcomm/pgapi"
	"distcomm/simbackend"
)

func newDeps(rank, size int, lib pgapi.CommLib, store pgapi.Store) Deps {
	return Deps{
		CommLib: lib,
		Driver:  simbackend.NewDriver(),
		Streams: simbackend.NewStreamPool(),
		Store:   store,
		Rank:    rank,
		Size:    size,
	}
}

func TestGetOrCreateIsIdempotentForSameDeviceKey(t *testing.T) {
	c := New()
	lib := simbackend.NewCommLib()
	store := memstore.New()
	deps := newDeps(0, 1, lib, store)

	key := pgapi.MakeDeviceKey([]int{0})
	first, err := c.GetOrCreate(key, []int{0}, deps)
	require.NoError(t, err)
	second, err := c.GetOrCreate(key, []int{0}, deps)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGetOrCreatePopulatesAllFourCachesConsistently(t *testing.T) {
	c := New()
	lib := simbackend.NewCommLib()
	store := memstore.New()
	deps := newDeps(0, 1, lib, store)

	key := pgapi.MakeDeviceKey([]int{0, 1})
	group, err := c.GetOrCreate(key, []int{0, 1}, deps)
	require.NoError(t, err)

	assert.Len(t, c.Streams(key), len(group))
	assert.Len(t, c.SyncEvents(key), len(group))
	assert.ElementsMatch(t, []int{0, 1}, c.UsedDevices())

	for _, hex := range c.AllHexes() {
		g, ok := c.GroupByHex(hex)
		assert.True(t, ok)
		assert.NotEmpty(t, g)
	}
}

func TestGetOrCreateRendezvousAcrossTwoRanks(t *testing.T) {
	c0, c1 := New(), New()
	lib := simbackend.NewCommLib()
	store := memstore.New()

	key := pgapi.MakeDeviceKey([]int{0})

	var wg sync.WaitGroup
	wg.Add(2)
	var err0, err1 error
	go func() {
		defer wg.Done()
		_, err0 = c0.GetOrCreate(key, []int{0}, newDeps(0, 2, lib, store))
	}()
	go func() {
		defer wg.Done()
		_, err1 = c1.GetOrCreate(key, []int{0}, newDeps(1, 2, lib, store))
	}()
	wg.Wait()

	require.NoError(t, err0)
	require.NoError(t, err1)
}

func TestAbortedSetTracksNewMarksOnly(t *testing.T) {
	c := New()
	assert.True(t, c.MarkAborted("deadbeef"))
	assert.False(t, c.MarkAborted("deadbeef"))
	assert.True(t, c.IsAborted("deadbeef"))
	assert.Contains(t, c.AbortedHexes(), "deadbeef")
}
