// Package commcache implements the process-wide communicator cache and its
// lazy rendezvous: the first call for a DeviceKey mints (or fetches) a
// UniqueId over the store, constructs one vendor communicator and
// collective stream per device inside a grouped scope, and publishes the
// result into four caches kept consistent under one mutex. Every later call
// for the same DeviceKey is a cache hit.
package commcache

import (
	"strconv"
	"sync"

	"distcomm/internal/validate"
	"distcomm/pgapi"
)

// CommunicatorGroup is an ordered sequence of vendor communicators, one per
// device in a DeviceKey.
type CommunicatorGroup []pgapi.Communicator

// StreamGroup is an ordered sequence of collective streams, one per device.
type StreamGroup []pgapi.Stream

// EventGroup is an ordered sequence of per-device sync events.
type EventGroup []pgapi.Event

// Cache is the process-wide communicator cache. The zero value is not
// usable; construct with New.
type Cache struct {
	mu sync.Mutex

	comms      map[pgapi.DeviceKey]CommunicatorGroup
	streams    map[pgapi.DeviceKey]StreamGroup
	syncEvents map[pgapi.DeviceKey]EventGroup
	hexByKey   map[pgapi.DeviceKey]string
	keyByHex   map[string]pgapi.DeviceKey
	byHex      map[string]CommunicatorGroup
	aborted    map[string]struct{}
	usedDevice map[int]struct{}

	counter int64
}

func New() *Cache {
	return &Cache{
		comms:      make(map[pgapi.DeviceKey]CommunicatorGroup),
		streams:    make(map[pgapi.DeviceKey]StreamGroup),
		syncEvents: make(map[pgapi.DeviceKey]EventGroup),
		hexByKey:   make(map[pgapi.DeviceKey]string),
		keyByHex:   make(map[string]pgapi.DeviceKey),
		byHex:      make(map[string]CommunicatorGroup),
		aborted:    make(map[string]struct{}),
		usedDevice: make(map[int]struct{}),
	}
}

// Deps bundles the external collaborators GetOrCreate needs, so the cache
// itself stays free of any one vendor/driver/store concrete type.
type Deps struct {
	CommLib    pgapi.CommLib
	Driver     pgapi.Driver
	Streams    pgapi.StreamPool
	Store      pgapi.Store
	Rank, Size int
}

// GetOrCreate returns the cached CommunicatorGroup for deviceKey, creating
// it via rendezvous on a cache miss. devices is the ordered local device
// index list the key was built from.
func (c *Cache) GetOrCreate(deviceKey pgapi.DeviceKey, devices []int, deps Deps) (CommunicatorGroup, error) {
	c.mu.Lock()
	if g, ok := c.comms[deviceKey]; ok {
		c.mu.Unlock()
		return g, nil
	}
	seq := c.counter
	c.counter++
	c.mu.Unlock()

	id, err := c.rendezvousUniqueID(deps, seq)
	if err != nil {
		return nil, err
	}

	comms, streams, err := c.construct(deps, devices, id)
	if err != nil {
		return nil, err
	}

	syncEvents := make(EventGroup, len(devices))
	for i := range devices {
		e, err := deps.Driver.NewEvent()
		if err != nil {
			return nil, pgapi.Wrap(pgapi.DriverError, err, "commcache: allocate sync event")
		}
		syncEvents[i] = e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.comms[deviceKey]; ok {
		// Lost a race against a concurrent creator for the same key; the
		// caller contract serializes this in practice, but don't leak the
		// communicators we just built into an inconsistent second copy.
		return g, nil
	}
	c.comms[deviceKey] = comms
	c.streams[deviceKey] = streams
	c.syncEvents[deviceKey] = syncEvents
	c.hexByKey[deviceKey] = id.Hex()
	c.keyByHex[id.Hex()] = deviceKey
	c.byHex[id.Hex()] = comms
	for _, d := range devices {
		c.usedDevice[d] = struct{}{}
	}
	return comms, nil
}

func (c *Cache) rendezvousUniqueID(deps Deps, seq int64) (pgapi.UniqueID, error) {
	key := strconv.FormatInt(seq, 10)
	if deps.Rank == 0 {
		id, err := deps.CommLib.GenerateUniqueID()
		if err != nil {
			return id, pgapi.Wrap(pgapi.VendorSubmissionError, err, "commcache: mint unique id")
		}
		if err := deps.Store.Set(key, id[:]); err != nil {
			return id, pgapi.Wrap(pgapi.DriverError, err, "commcache: publish unique id to store")
		}
		return id, nil
	}

	raw, err := deps.Store.Get(key)
	if err != nil {
		return pgapi.UniqueID{}, pgapi.Wrap(pgapi.DriverError, err, "commcache: fetch unique id from store")
	}
	if err := validate.AssertUniqueIDWidth(raw); err != nil {
		return pgapi.UniqueID{}, err
	}
	var id pgapi.UniqueID
	copy(id[:], raw)
	return id, nil
}

func (c *Cache) construct(deps Deps, devices []int, id pgapi.UniqueID) (CommunicatorGroup, StreamGroup, error) {
	globalSize := deps.Size * len(devices)

	if err := deps.CommLib.GroupStart(); err != nil {
		return nil, nil, pgapi.Wrap(pgapi.VendorSubmissionError, err, "commcache: group start")
	}

	comms := make(CommunicatorGroup, len(devices))
	streams := make(StreamGroup, len(devices))
	for i, d := range devices {
		if err := deps.Driver.SetDevice(d); err != nil {
			return nil, nil, pgapi.Wrap(pgapi.DriverError, err, "commcache: set device")
		}
		globalRank := deps.Rank*len(devices) + i
		comm, err := deps.CommLib.CommInitRank(globalSize, globalRank, id)
		if err != nil {
			return nil, nil, pgapi.Wrap(pgapi.VendorSubmissionError, err, "commcache: comm init rank")
		}
		stream, err := deps.Streams.Get(d)
		if err != nil {
			return nil, nil, pgapi.Wrap(pgapi.DriverError, err, "commcache: acquire collective stream")
		}
		comms[i] = comm
		streams[i] = stream
	}

	if err := deps.CommLib.GroupEnd(); err != nil {
		return nil, nil, pgapi.Wrap(pgapi.VendorSubmissionError, err, "commcache: group end")
	}
	return comms, streams, nil
}

// Streams returns the cached StreamGroup for deviceKey, which must already
// be present (i.e. GetOrCreate has run for it).
func (c *Cache) Streams(deviceKey pgapi.DeviceKey) StreamGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[deviceKey]
}

// SyncEvents returns the cached sync EventGroup for deviceKey.
func (c *Cache) SyncEvents(deviceKey pgapi.DeviceKey) EventGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncEvents[deviceKey]
}

// Hex returns the UniqueIdHex that every communicator in deviceKey's
// CommunicatorGroup was constructed from.
func (c *Cache) Hex(deviceKey pgapi.DeviceKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hex, ok := c.hexByKey[deviceKey]
	return hex, ok
}

// UsedDevices returns a snapshot of every device index ever used, for
// barrier's default device selection. The snapshot is taken under the cache
// mutex, but nothing orders it against a concurrent first use of a new
// DeviceKey; callers must not race barrier against the first collective
// issuance.
func (c *Cache) UsedDevices() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.usedDevice))
	for d := range c.usedDevice {
		out = append(out, d)
	}
	return out
}

// ForEachGroup calls fn with the DeviceKey, UniqueIdHex, and
// CommunicatorGroup of every cached communicator group, for the watchdog's
// async-error scan.
func (c *Cache) ForEachGroup(fn func(key pgapi.DeviceKey, hex string, group CommunicatorGroup)) {
	c.mu.Lock()
	type entry struct {
		key pgapi.DeviceKey
		hex string
		g   CommunicatorGroup
	}
	snapshot := make([]entry, 0, len(c.byHex))
	for hex, g := range c.byHex {
		snapshot = append(snapshot, entry{key: c.keyByHex[hex], hex: hex, g: g})
	}
	c.mu.Unlock()
	for _, e := range snapshot {
		fn(e.key, e.hex, e.g)
	}
}

// GroupByHex resolves a UniqueIdHex to its CommunicatorGroup via the
// reverse index, for the watchdog's store-observed-abort path.
func (c *Cache) GroupByHex(hex string) (CommunicatorGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.byHex[hex]
	return g, ok
}

// MarkAborted records hex as locally aborted and reports whether it was
// newly marked (false if it was already in the set).
func (c *Cache) MarkAborted(hex string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.aborted[hex]; ok {
		return false
	}
	c.aborted[hex] = struct{}{}
	return true
}

// IsAborted reports whether hex has already been locally aborted.
func (c *Cache) IsAborted(hex string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.aborted[hex]
	return ok
}

// AbortedHexes returns a snapshot of every locally-aborted UniqueIdHex.
func (c *Cache) AbortedHexes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.aborted))
	for hex := range c.aborted {
		out = append(out, hex)
	}
	return out
}

// AllHexes returns a snapshot of every known UniqueIdHex in the reverse
// index, for the watchdog's store-observed-abort scan.
func (c *Cache) AllHexes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.byHex))
	for hex := range c.byHex {
		out = append(out, hex)
	}
	return out
}
