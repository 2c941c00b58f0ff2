package simbackend

import (
	"sync"

	"distcomm/pgapi"
)

// Stream is a CPU reference Stream: since simbackend executes collectives
// synchronously (inline, under the allocator's free-mutex like real grouped
// submission), a Stream carries no queue; it is purely an identity plus a
// generation counter events can snapshot to fake "has this stream reached
// event E yet" semantics.
type Stream struct {
	device int
	mu     sync.Mutex
	gen    int64
}

func (s *Stream) Device() int { return s.device }

func (s *Stream) advance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

func (s *Stream) snapshot() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Event is a CPU reference Event: recording it snapshots the stream's
// generation counter; it is "ready" as soon as it has been recorded
// (simbackend never defers work, so every record is immediately complete).
type Event struct {
	mu      sync.Mutex
	fired   bool
	recGen  int64
	stream  *Stream
}

// RecordOn records e on s. simbackend's Driver.NewEvent returns an
// *eventAdapter wrapping an Event, and the pgapi.Stream values it is
// recorded on are always *Stream, so eventAdapter.Record does the type
// assertion before calling this.
func (e *Event) RecordOn(s *Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stream = s
	e.recGen = s.advance()
	e.fired = true
	return nil
}

func (e *Event) Query() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired, nil
}

func (e *Event) Wait(s pgapi.Stream) error {
	// Synchronous execution model: nothing to wait for once recorded.
	return nil
}

func (e *Event) Synchronize() error {
	return nil
}

// Driver is a CPU reference pgapi.Driver: "devices" are just integers, and
// there is no real concurrency to guard against, so SetDevice is a no-op
// bookkeeping call retained for interface parity with a real driver.
type Driver struct {
	mu      sync.Mutex
	current int
	streams map[int]*Stream
}

func NewDriver() *Driver {
	return &Driver{streams: make(map[int]*Stream)}
}

func (d *Driver) SetDevice(device int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = device
	return nil
}

func (d *Driver) CurrentStream(device int) (pgapi.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[device]
	if !ok {
		s = &Stream{device: device}
		d.streams[device] = s
	}
	return s, nil
}

func (d *Driver) NewEvent() (pgapi.Event, error) {
	return &eventAdapter{}, nil
}

func (d *Driver) DeviceSynchronize(device int) error {
	return nil
}

// eventAdapter adapts the concrete Event to pgapi.Event's Record(Stream)
// signature, which takes the interface type rather than *Stream.
type eventAdapter struct {
	Event
}

func (e *eventAdapter) Record(s pgapi.Stream) error {
	cs, ok := s.(*Stream)
	if !ok {
		return pgapi.Newf(pgapi.DriverError, "simbackend: stream %T is not a *simbackend.Stream", s)
	}
	return e.RecordOn(cs)
}
