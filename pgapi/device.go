package pgapi

// Event is a device-driver event: something that can be recorded on a
// stream and later queried or waited on for completion. Completion events
// (owned by a Work) and sync events (owned by the communicator cache) are
// both represented this way; the spec distinguishes them only by who owns
// and recycles them, not by type.
type Event interface {
	// Record schedules this event on the given stream's current position.
	Record(s Stream) error
	// Query reports whether the event has fired. A non-nil error is a
	// DriverError; "not yet fired" is (false, nil).
	Query() (bool, error)
	// Wait makes s wait until this event fires before proceeding.
	Wait(s Stream) error
	// Synchronize blocks the calling goroutine until the event fires.
	Synchronize() error
}

// Stream is a device execution queue. The process group never blocks on a
// Stream directly except through Event.Synchronize or DeviceSynchronize.
type Stream interface {
	Device() int
}

// StreamPool hands out collective streams for a device, one per DeviceKey
// slot, matching the spec's "obtained from a device stream pool" language.
type StreamPool interface {
	Get(device int) (Stream, error)
}

// Driver is the thin device-driver surface the core needs beyond streams
// and events: selecting the current device, getting a device's current
// compute stream, and blocking device-synchronize (used only for barrier's
// placeholder tensors per spec.md §4.5).
type Driver interface {
	SetDevice(device int) error
	CurrentStream(device int) (Stream, error)
	NewEvent() (Event, error)
	DeviceSynchronize(device int) error
}

// Allocator is the device caching allocator. RecordStream defers physical
// reuse of a storage until the given collective stream has passed the
// point where it was last used, and Lock/Unlock bracket a grouped
// submission so no free can be observed mid-batch.
type Allocator interface {
	RecordStream(t Tensor, s Stream) error
	Lock()
	Unlock()
}
