// Package streamsync implements the stream-synchronization discipline that
// keeps a collective from starting before the caller's compute stream has
// caught up, and from reading or writing device memory the caching
// allocator has already reclaimed.
package streamsync

import "distcomm/pgapi"

// Sync records each device's sync event on its current compute stream, then
// makes the matching collective stream wait on that event, per device in
// order. devices, syncEvents, and collectiveStreams must all have the same
// length.
func Sync(driver pgapi.Driver, devices []int, syncEvents []pgapi.Event, collectiveStreams []pgapi.Stream) error {
	if len(devices) != len(syncEvents) || len(devices) != len(collectiveStreams) {
		return pgapi.Newf(pgapi.InvalidArgument,
			"streamsync: mismatched lengths devices=%d events=%d streams=%d",
			len(devices), len(syncEvents), len(collectiveStreams))
	}
	for i, d := range devices {
		cur, err := driver.CurrentStream(d)
		if err != nil {
			return pgapi.Wrap(pgapi.DriverError, err, "streamsync: get current stream")
		}
		if err := syncEvents[i].Record(cur); err != nil {
			return pgapi.Wrap(pgapi.DriverError, err, "streamsync: record sync event")
		}
		if err := syncEvents[i].Wait(collectiveStreams[i]); err != nil {
			return pgapi.Wrap(pgapi.DriverError, err, "streamsync: collective stream wait on sync event")
		}
	}
	return nil
}

// RegisterStorages registers every tensor's storage with the caching
// allocator against its matching collective stream, so a host-side free
// defers physical reuse until the collective stream has passed the usage
// point. tensors and streams must be the same length, tensor i running on
// streams[i].
func RegisterStorages(alloc pgapi.Allocator, tensors []pgapi.Tensor, streams []pgapi.Stream) error {
	if len(tensors) != len(streams) {
		return pgapi.Newf(pgapi.InvalidArgument,
			"streamsync: mismatched lengths tensors=%d streams=%d", len(tensors), len(streams))
	}
	for i, t := range tensors {
		if err := alloc.RecordStream(t, streams[i]); err != nil {
			return pgapi.Wrap(pgapi.DriverError, err, "streamsync: record stream on allocator")
		}
	}
	return nil
}
