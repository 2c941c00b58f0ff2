// Command demo runs a small in-process "cluster" over distcomm's process
// group core, using simbackend and memstore in place of a real GPU/NCCL/KV
// stack: one goroutine per rank, sharing one simbackend.CommLib and one
// memstore.Store the way a real deployment shares one vendor library
// process and one rendezvous store across ranks.
package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"distcomm/memstore"
	"distcomm/pgapi"
	"distcomm/processgroup"
	"distcomm/simbackend"
	"distcomm/work"
)

const worldSize = 4

func main() {
	logger := logrus.StandardLogger()
	logger.SetLevel(logrus.InfoLevel)

	lib := simbackend.NewCommLib()
	store := memstore.New()

	var wg sync.WaitGroup
	wg.Add(worldSize)
	for rank := 0; rank < worldSize; rank++ {
		go func(rank int) {
			defer wg.Done()
			runRank(rank, lib, store, logger)
		}(rank)
	}
	wg.Wait()
}

func runRank(rank int, lib *simbackend.CommLib, store *memstore.Store, logger *logrus.Logger) {
	log := logger.WithField("rank", rank)

	pg := processgroup.New(processgroup.Options{
		Rank:             rank,
		Size:             worldSize,
		LocalDeviceCount: 1,
		OpTimeout:        2 * time.Second,
		BlockingWait:     true,
		ErrorChecking:    true,
		Logger:           logger,
	}, processgroup.Deps{
		CommLib:   lib,
		Driver:    simbackend.NewDriver(),
		Streams:   simbackend.NewStreamPool(),
		Allocator: simbackend.NewAllocator(),
		Store:     store,
		Factory:   simbackend.NewFactory(),
		Copier:    simbackend.NewCopier(),
	})
	defer pg.Close()

	runAllReduce(rank, pg, log)
	runBroadcast(rank, pg, log)
	runAllToAll(rank, pg, log)
	if rank == 0 {
		runTimeoutDemo(lib, store, log)
	}
}

func runAllReduce(rank int, pg *processgroup.ProcessGroup, log *logrus.Entry) {
	t := simbackend.NewTensor(0, pgapi.Float32, []int64{3})
	copy(t.Data(), []float64{float64(rank) + 1, float64(rank) + 2, float64(rank) + 3})

	w, err := pg.AllReduce([]pgapi.Tensor{t}, pgapi.Sum)
	if err != nil {
		log.WithError(err).Fatal("allreduce submission failed")
	}
	if err := w.Wait(); err != nil {
		log.WithError(err).Fatal("allreduce failed")
	}
	log.WithField("result", t.Data()).Info("allreduce complete")
}

func runBroadcast(rank int, pg *processgroup.ProcessGroup, log *logrus.Entry) {
	t := simbackend.NewTensor(0, pgapi.Float32, []int64{1})
	if rank == 0 {
		t.Data()[0] = 7
	}

	w, err := pg.Broadcast([]pgapi.Tensor{t}, 0, 0)
	if err != nil {
		log.WithError(err).Fatal("broadcast submission failed")
	}
	if err := w.Wait(); err != nil {
		log.WithError(err).Fatal("broadcast failed")
	}
	log.WithField("result", t.Data()).Info("broadcast complete")
}

func runAllToAll(rank int, pg *processgroup.ProcessGroup, log *logrus.Entry) {
	in := simbackend.NewTensor(0, pgapi.Float32, []int64{worldSize})
	for i := range in.Data() {
		in.Data()[i] = float64(rank*worldSize + i)
	}
	out := simbackend.NewTensor(0, pgapi.Float32, []int64{worldSize})

	w, err := pg.AllToAllBase(out, in, nil, nil)
	if err != nil {
		log.WithError(err).Fatal("alltoall submission failed")
	}
	if err := w.Wait(); err != nil {
		log.WithError(err).Fatal("alltoall failed")
	}
	log.WithField("result", out.Data()).Info("alltoall complete")
}

// neverReadyEvent is a pgapi.Event that never reports completion, standing
// in for a device stuck mid-collective (a hung peer, a dropped NCCL op).
type neverReadyEvent struct{}

func (neverReadyEvent) Record(s pgapi.Stream) error { return nil }
func (neverReadyEvent) Query() (bool, error)        { return false, nil }
func (neverReadyEvent) Wait(s pgapi.Stream) error   { return nil }
func (neverReadyEvent) Synchronize() error          { return nil }

// runTimeoutDemo builds a Work directly over a communicator that will never
// complete, to show the blocking-wait timeout path (abort every held
// communicator, publish its UniqueIdHex under the abort-store-key prefix)
// without actually stalling the rest of the cluster.
func runTimeoutDemo(lib *simbackend.CommLib, store *memstore.Store, log *logrus.Entry) {
	id, err := lib.GenerateUniqueID()
	if err != nil {
		log.WithError(err).Fatal("timeout-demo: generate unique id")
	}
	comm, err := lib.CommInitRank(1, 0, id)
	if err != nil {
		log.WithError(err).Fatal("timeout-demo: comm init rank")
	}

	w := work.New(work.Config{
		Devices:   []int{0},
		Events:    []pgapi.Event{neverReadyEvent{}},
		Comms:     []pgapi.Communicator{comm},
		CommHexes: []string{id.Hex()},
		Driver:    simbackend.NewDriver(),
		Store:     store,
		Timeout:   50 * time.Millisecond,
		Blocking:  true,
	})

	err = w.Wait()
	log.WithError(err).Info("timeout demo collective aborted as expected")

	marker, getErr := store.Get(pgapi.AbortedCommStoreKey(id.Hex()))
	if getErr != nil {
		log.WithError(getErr).Fatal("timeout-demo: abort marker missing from store")
	}
	_ = marker
	fmt.Println("rank 0: timeout demo published its abort marker after the configured op_timeout")
}
