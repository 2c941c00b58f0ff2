package simbackend

import (
	"sync"

	"distcomm/pgapi"
)

// StreamPool is a CPU reference pgapi.StreamPool: it hands out one
// collective Stream per device, distinct from that device's Driver-owned
// current compute stream, so sync events genuinely cross two different
// streams the way the real stream-sync discipline expects.
type StreamPool struct {
	mu      sync.Mutex
	streams map[int]*Stream
}

func NewStreamPool() *StreamPool {
	return &StreamPool{streams: make(map[int]*Stream)}
}

func (p *StreamPool) Get(device int) (pgapi.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[device]
	if !ok {
		s = &Stream{device: device}
		p.streams[device] = s
	}
	return s, nil
}
