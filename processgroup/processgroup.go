// Package processgroup is the facade: it validates inputs, enforces the
// supported/unsupported operation surface, and dispatches to the
// collective driver. It is the only package most callers import directly.
package processgroup

import (
	"github.com/sirupsen/logrus"

	"distcomm/collective"
	"distcomm/commcache"
	"distcomm/internal/validate"
	"distcomm/pgapi"
	"distcomm/watchdog"
	"distcomm/work"
)

// Deps bundles every external collaborator a ProcessGroup needs: the
// tensor/device/vendor/store contracts from pgapi, plus a TensorFactory and
// Copier for the staging buffers gather/scatter families allocate and
// fill. simbackend supplies a CPU reference implementation of all of these.
type Deps struct {
	CommLib   pgapi.CommLib
	Driver    pgapi.Driver
	Streams   pgapi.StreamPool
	Allocator pgapi.Allocator
	Store     pgapi.Store
	Factory   pgapi.TensorFactory
	Copier    pgapi.Copier
}

// ProcessGroup exposes the collective entry-point surface over one set of
// Deps and Options.
type ProcessGroup struct {
	opts Options
	deps Deps

	cache    *commcache.Cache
	driver   *collective.Driver
	watchdog *watchdog.Watchdog
	log      *logrus.Entry
}

// New constructs a ProcessGroup and, if opts.ErrorChecking is set, starts
// its watchdog goroutine. Call Close to stop the watchdog.
func New(opts Options, deps Deps) *ProcessGroup {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cache := commcache.New()
	driver := collective.New(collective.Deps{
		Cache:            cache,
		CommLib:          deps.CommLib,
		Driver:           deps.Driver,
		Streams:          deps.Streams,
		Allocator:        deps.Allocator,
		Store:            deps.Store,
		Rank:             opts.Rank,
		Size:             opts.Size,
		LocalDeviceCount: opts.LocalDeviceCount,
		OpTimeout:        opts.OpTimeout,
		Blocking:         opts.BlockingWait,
	})

	pg := &ProcessGroup{
		opts:   opts,
		deps:   deps,
		cache:  cache,
		driver: driver,
		log:    logger.WithField("rank", opts.Rank),
	}

	if opts.ErrorChecking {
		pg.watchdog = watchdog.New(cache, deps.Store, opts.BlockingWait, logger)
		go pg.watchdog.Run()
	}
	return pg
}

// Close stops the watchdog goroutine, if one was started.
func (pg *ProcessGroup) Close() {
	if pg.watchdog != nil {
		pg.watchdog.Stop()
	}
}

func deviceListOf(ts []pgapi.Tensor) []int {
	devices := make([]int, len(ts))
	for i, t := range ts {
		devices[i] = t.Device()
	}
	return devices
}

// registerOutputIfDistinct registers out's storage with the allocator when
// it is not the same tensor value as in, per the collective driver's
// contract that fn, not the driver, registers output storage whenever
// outputs differ from inputs.
func (pg *ProcessGroup) registerOutputIfDistinct(in, out pgapi.Tensor, stream pgapi.Stream) error {
	if in == out {
		return nil
	}
	if err := pg.deps.Allocator.RecordStream(out, stream); err != nil {
		return pgapi.Wrap(pgapi.DriverError, err, "processgroup: register output storage")
	}
	return nil
}

// AllReduce reduces tensors (one per device) across the group with op,
// in-place.
func (pg *ProcessGroup) AllReduce(tensors []pgapi.Tensor, op pgapi.ReduceOp) (*work.Work, error) {
	if err := validate.GPUTensors(tensors, pg.opts.LocalDeviceCount, false); err != nil {
		return nil, err
	}
	fn := func(in, out pgapi.Tensor, comm pgapi.Communicator, stream pgapi.Stream) error {
		return pg.deps.CommLib.AllReduce(comm, stream, in, out, op)
	}
	return pg.driver.Collective(deviceListOf(tensors), tensors, tensors, fn, nil, nil)
}

// Broadcast copies the root (device-global rootRank*devicesPerRank+rootTensor)
// tensor's contents to every tensor in tensors, in-place.
func (pg *ProcessGroup) Broadcast(tensors []pgapi.Tensor, rootRank, rootTensor int) (*work.Work, error) {
	if err := validate.GPUTensors(tensors, pg.opts.LocalDeviceCount, false); err != nil {
		return nil, err
	}
	root := rootRank*len(tensors) + rootTensor
	fn := func(in, out pgapi.Tensor, comm pgapi.Communicator, stream pgapi.Stream) error {
		return pg.deps.CommLib.Broadcast(comm, stream, in, out, root)
	}
	return pg.driver.Collective(deviceListOf(tensors), tensors, tensors, fn, nil, nil)
}

// Reduce reduces tensors across the group with op, leaving the result only
// on the root (device-global rootRank*devicesPerRank+rootTensor).
func (pg *ProcessGroup) Reduce(tensors []pgapi.Tensor, op pgapi.ReduceOp, rootRank, rootTensor int) (*work.Work, error) {
	if err := validate.GPUTensors(tensors, pg.opts.LocalDeviceCount, false); err != nil {
		return nil, err
	}
	root := rootRank*len(tensors) + rootTensor
	fn := func(in, out pgapi.Tensor, comm pgapi.Communicator, stream pgapi.Stream) error {
		return pg.deps.CommLib.Reduce(comm, stream, in, out, op, root)
	}
	return pg.driver.Collective(deviceListOf(tensors), tensors, tensors, fn, nil, nil)
}
