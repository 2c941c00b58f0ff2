// Package collective implements the generic collective driver: the
// stream-sync / allocator-registration / grouped-submission / event-record
// skeleton every entry point in processgroup is built from, plus the
// batched paired send/recv specialization all-to-all uses.
package collective

import (
	"time"

	"golang.org/x/sync/errgroup"

	"distcomm/commcache"
	"distcomm/internal/streamsync"
	"distcomm/pgapi"
	"distcomm/work"
)

// Fn is the per-device closure a collective call dispatches to: it invokes
// one vendor primitive on comm/stream for inputs[i]/outputs[i]. Fn is
// responsible for registering output storage with the allocator whenever
// outputs[i] does not alias inputs[i]; the driver only registers inputs.
type Fn func(in, out pgapi.Tensor, comm pgapi.Communicator, stream pgapi.Stream) error

// Hook runs once per call with the DeviceKey's collective StreamGroup, used
// by reduce-scatter (pre, copy flattened input in) and all-gather (post,
// fan flattened output back out). A nil Hook is a no-op.
type Hook func(streams commcache.StreamGroup) error

// Deps bundles every external collaborator the driver needs.
type Deps struct {
	Cache     *commcache.Cache
	CommLib   pgapi.CommLib
	Driver    pgapi.Driver
	Streams   pgapi.StreamPool
	Allocator pgapi.Allocator
	Store     pgapi.Store

	Rank, Size, LocalDeviceCount int
	OpTimeout                    time.Duration
	Blocking                     bool
}

func (d Deps) cacheDeps() commcache.Deps {
	return commcache.Deps{
		CommLib: d.CommLib,
		Driver:  d.Driver,
		Streams: d.Streams,
		Store:   d.Store,
		Rank:    d.Rank,
		Size:    d.Size,
	}
}

// Driver runs the generic collective skeleton against one set of Deps.
type Driver struct {
	deps Deps
}

func New(deps Deps) *Driver {
	return &Driver{deps: deps}
}

// Collective runs the generic dispatch from spec.md §4.6: sync inputs onto
// the collective streams, run pre, register inputs, open a grouped
// submission scope (one goroutine per device, first error wins) calling fn
// for each device, run post, then record completion events and return a
// Work. inputs and outputs must be the same length, one tensor per device,
// device i's tensor residing on devices[i].
func (d *Driver) Collective(devices []int, inputs, outputs []pgapi.Tensor, fn Fn, pre, post Hook) (*work.Work, error) {
	if len(inputs) != len(devices) || len(outputs) != len(devices) {
		return nil, pgapi.Newf(pgapi.InvalidArgument,
			"collective: devices=%d inputs=%d outputs=%d must match", len(devices), len(inputs), len(outputs))
	}

	key := pgapi.MakeDeviceKey(devices)
	comms, err := d.deps.Cache.GetOrCreate(key, devices, d.deps.cacheDeps())
	if err != nil {
		return nil, err
	}
	streams := d.deps.Cache.Streams(key)
	syncEvents := d.deps.Cache.SyncEvents(key)

	streamSlice := make([]pgapi.Stream, len(devices))
	copy(streamSlice, streams)

	if err := streamsync.Sync(d.deps.Driver, devices, syncEvents, streamSlice); err != nil {
		return nil, err
	}

	if pre != nil {
		if err := pre(streams); err != nil {
			return nil, err
		}
	}

	if err := streamsync.RegisterStorages(d.deps.Allocator, inputs, streamSlice); err != nil {
		return nil, err
	}

	d.deps.Allocator.Lock()
	groupErr := d.runGrouped(devices, inputs, outputs, comms, streamSlice, fn)
	d.deps.Allocator.Unlock()
	if groupErr != nil {
		return nil, groupErr
	}

	if post != nil {
		if err := post(streams); err != nil {
			return nil, err
		}
	}

	events, err := d.recordCompletions(devices, streamSlice)
	if err != nil {
		return nil, err
	}

	hex, _ := d.deps.Cache.Hex(key)
	hexes := make([]string, len(comms))
	for i := range hexes {
		hexes[i] = hex
	}

	return work.New(work.Config{
		Devices:   devices,
		Events:    events,
		Comms:     comms,
		CommHexes: hexes,
		Driver:    d.deps.Driver,
		Store:     d.deps.Store,
		Timeout:   d.deps.OpTimeout,
		Blocking:  d.deps.Blocking,
	}), nil
}

// runGrouped brackets the per-device fn calls in one vendor grouped scope,
// fanning out across devices with errgroup so the first error wins and is
// propagated once the group closes.
func (d *Driver) runGrouped(devices []int, inputs, outputs []pgapi.Tensor, comms commcache.CommunicatorGroup, streams []pgapi.Stream, fn Fn) error {
	if err := d.deps.CommLib.GroupStart(); err != nil {
		return pgapi.Wrap(pgapi.VendorSubmissionError, err, "collective: group start")
	}

	var g errgroup.Group
	for i := range devices {
		i := i
		g.Go(func() error {
			if err := d.deps.Driver.SetDevice(devices[i]); err != nil {
				return pgapi.Wrap(pgapi.DriverError, err, "collective: set device")
			}
			if err := fn(inputs[i], outputs[i], comms[i], streams[i]); err != nil {
				return pgapi.Wrap(pgapi.VendorSubmissionError, err, "collective: fn submission failed")
			}
			return nil
		})
	}
	fnErr := g.Wait()

	if err := d.deps.CommLib.GroupEnd(); err != nil {
		if fnErr == nil {
			fnErr = pgapi.Wrap(pgapi.VendorSubmissionError, err, "collective: group end")
		}
	}
	return fnErr
}

func (d *Driver) recordCompletions(devices []int, streams []pgapi.Stream) ([]pgapi.Event, error) {
	events := make([]pgapi.Event, len(devices))
	for i := range devices {
		e, err := d.deps.Driver.NewEvent()
		if err != nil {
			return nil, pgapi.Wrap(pgapi.DriverError, err, "collective: allocate completion event")
		}
		if err := e.Record(streams[i]); err != nil {
			return nil, pgapi.Wrap(pgapi.DriverError, err, "collective: record completion event")
		}
		events[i] = e
	}
	return events, nil
}

// BatchedP2P specializes the driver for all-to-all: one send/recv pair per
// peer rank, issued within a single grouped scope on device's collective
// stream (stream index 0 for every peer, per the source's open striping
// question, see DESIGN.md). sendChunks and recvChunks must each have
// exactly size entries, one per peer rank (self included).
func (d *Driver) BatchedP2P(device, size int, sendChunks, recvChunks []pgapi.Tensor) (*work.Work, error) {
	if len(sendChunks) != size || len(recvChunks) != size {
		return nil, pgapi.Newf(pgapi.InvalidArgument,
			"collective: batched_p2p needs %d send/recv chunks, got %d/%d", size, len(sendChunks), len(recvChunks))
	}

	devices := []int{device}
	key := pgapi.MakeDeviceKey(devices)
	comms, err := d.deps.Cache.GetOrCreate(key, devices, d.deps.cacheDeps())
	if err != nil {
		return nil, err
	}
	streams := d.deps.Cache.Streams(key)
	syncEvents := d.deps.Cache.SyncEvents(key)
	stream := streams[0]

	if err := streamsync.Sync(d.deps.Driver, devices, syncEvents, []pgapi.Stream{stream}); err != nil {
		return nil, err
	}

	sendStreams := repeatStream(stream, size)
	if err := streamsync.RegisterStorages(d.deps.Allocator, sendChunks, sendStreams); err != nil {
		return nil, err
	}

	d.deps.Allocator.Lock()
	groupErr := d.runBatchedP2P(device, size, comms[0], stream, sendChunks, recvChunks)
	d.deps.Allocator.Unlock()
	if groupErr != nil {
		return nil, groupErr
	}

	if err := streamsync.RegisterStorages(d.deps.Allocator, recvChunks, repeatStream(stream, size)); err != nil {
		return nil, err
	}

	events, err := d.recordCompletions(devices, []pgapi.Stream{stream})
	if err != nil {
		return nil, err
	}

	hex, _ := d.deps.Cache.Hex(key)
	return work.New(work.Config{
		Devices:   devices,
		Events:    events,
		Comms:     comms,
		CommHexes: []string{hex},
		Driver:    d.deps.Driver,
		Store:     d.deps.Store,
		Timeout:   d.deps.OpTimeout,
		Blocking:  d.deps.Blocking,
	}), nil
}

func (d *Driver) runBatchedP2P(device, size int, comm pgapi.Communicator, stream pgapi.Stream, sendChunks, recvChunks []pgapi.Tensor) error {
	if err := d.deps.CommLib.GroupStart(); err != nil {
		return pgapi.Wrap(pgapi.VendorSubmissionError, err, "collective: batched_p2p group start")
	}
	if err := d.deps.Driver.SetDevice(device); err != nil {
		return pgapi.Wrap(pgapi.DriverError, err, "collective: batched_p2p set device")
	}
	for peer := 0; peer < size; peer++ {
		if err := d.deps.CommLib.Send(comm, stream, sendChunks[peer], peer); err != nil {
			return pgapi.Wrap(pgapi.VendorSubmissionError, err, "collective: batched_p2p send")
		}
		if err := d.deps.CommLib.Recv(comm, stream, recvChunks[peer], peer); err != nil {
			return pgapi.Wrap(pgapi.VendorSubmissionError, err, "collective: batched_p2p recv")
		}
	}
	if err := d.deps.CommLib.GroupEnd(); err != nil {
		return pgapi.Wrap(pgapi.VendorSubmissionError, err, "collective: batched_p2p group end")
	}
	return nil
}

func repeatStream(s pgapi.Stream, n int) []pgapi.Stream {
	out := make([]pgapi.Stream, n)
	for i := range out {
		out[i] = s
	}
	return out
}
