package collective

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distcomm/commcache"
	"distcomm/memstore"
	"distcomm/pgapi"
	"distcomm/simbackend"
)

type fakeAllocator struct {
	mu sync.Mutex
}

func (a *fakeAllocator) RecordStream(t pgapi.Tensor, s pgapi.Stream) error { return nil }
func (a *fakeAllocator) Lock()                                            { a.mu.Lock() }
func (a *fakeAllocator) Unlock()                                          { a.mu.Unlock() }

func newTestDriver(rank, size int, lib *simbackend.CommLib, store *memstore.Store) *Driver {
	return New(Deps{
		Cache:            commcache.New(),
		CommLib:          lib,
		Driver:           simbackend.NewDriver(),
		Streams:          simbackend.NewStreamPool(),
		Allocator:        &fakeAllocator{},
		Store:            store,
		Rank:             rank,
		Size:             size,
		LocalDeviceCount: 1,
		OpTimeout:        time.Second,
		Blocking:         false,
	})
}

func TestCollectiveAllReduceSumAcrossTwoRanks(t *testing.T) {
	lib := simbackend.NewCommLib()
	store := memstore.New()

	results := make([][]float64, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	run := func(rank int, values []float64) {
		defer wg.Done()
		d := newTestDriver(rank, 2, lib, store)
		in := simbackend.NewTensor(0, pgapi.Float32, []int64{int64(len(values))})
		copy(in.Data(), values)
		out := simbackend.NewTensor(0, pgapi.Float32, []int64{int64(len(values))})

		fn := func(in, out pgapi.Tensor, comm pgapi.Communicator, stream pgapi.Stream) error {
			return lib.AllReduce(comm, stream, in, out, pgapi.Sum)
		}

		w, err := d.Collective([]int{0}, []pgapi.Tensor{in}, []pgapi.Tensor{out}, fn, nil, nil)
		require.NoError(t, err)
		require.NoError(t, w.Wait())
		results[rank] = append([]float64(nil), out.Data()...)
	}

	go run(0, []float64{1, 2, 3})
	go run(1, []float64{4, 5, 6})
	wg.Wait()

	assert.Equal(t, []float64{5, 7, 9}, results[0])
	assert.Equal(t, []float64{5, 7, 9}, results[1])
}

func TestCollectiveRejectsMismatchedLengths(t *testing.T) {
	lib := simbackend.NewCommLib()
	store := memstore.New()
	d := newTestDriver(0, 1, lib, store)

	_, err := d.Collective([]int{0, 1}, []pgapi.Tensor{nil}, []pgapi.Tensor{nil}, nil, nil, nil)
	assert.Error(t, err)
}
