package streamsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distcomm/pgapi"
	"distcomm/simbackend"
)

type fakeAllocator struct {
	recorded []pgapi.Stream
}

func (a *fakeAllocator) RecordStream(t pgapi.Tensor, s pgapi.Stream) error {
	a.recorded = append(a.recorded, s)
	return nil
}
func (a *fakeAllocator) Lock()   {}
func (a *fakeAllocator) Unlock() {}

func TestSyncRecordsAndWaitsPerDevice(t *testing.T) {
	driver := simbackend.NewDriver()
	devices := []int{0, 1}

	events := make([]pgapi.Event, len(devices))
	streams := make([]pgapi.Stream, len(devices))
	for i, d := range devices {
		e, err := driver.NewEvent()
		require.NoError(t, err)
		events[i] = e
		s, err := driver.CurrentStream(d)
		require.NoError(t, err)
		streams[i] = s
	}

	require.NoError(t, Sync(driver, devices, events, streams))

	for i := range devices {
		fired, err := events[i].Query()
		require.NoError(t, err)
		assert.True(t, fired)
	}
}

func TestSyncRejectsMismatchedLengths(t *testing.T) {
	driver := simbackend.NewDriver()
	err := Sync(driver, []int{0, 1}, []pgapi.Event{nil}, []pgapi.Stream{nil, nil})
	assert.Error(t, err)
}

func TestRegisterStoragesCallsAllocatorPerTensor(t *testing.T) {
	driver := simbackend.NewDriver()
	alloc := &fakeAllocator{}

	s0, err := driver.CurrentStream(0)
	require.NoError(t, err)
	s1, err := driver.CurrentStream(1)
	require.NoError(t, err)

	tensors := []pgapi.Tensor{
		simbackend.NewTensor(0, pgapi.Float32, []int64{3}),
		simbackend.NewTensor(1, pgapi.Float32, []int64{3}),
	}
	streams := []pgapi.Stream{s0, s1}

	require.NoError(t, RegisterStorages(alloc, tensors, streams))
	assert.Len(t, alloc.recorded, 2)
}

func TestRegisterStoragesRejectsMismatchedLengths(t *testing.T) {
	alloc := &fakeAllocator{}
	err := RegisterStorages(alloc, []pgapi.Tensor{nil, nil}, []pgapi.Stream{nil})
	assert.Error(t, err)
}
