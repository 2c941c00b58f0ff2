package simbackend

import (
	"sync"

	"distcomm/pgapi"
)

// Allocator is a CPU reference pgapi.Allocator. simbackend's storages are
// plain Go slices collected by the garbage collector, so RecordStream has
// nothing physical to defer; it exists to give Lock/Unlock a real mutex to
// bracket grouped submissions with, the same free-list lock a real caching
// allocator takes around a batch.
type Allocator struct {
	mu sync.Mutex
}

func NewAllocator() *Allocator { return &Allocator{} }

func (a *Allocator) RecordStream(t pgapi.Tensor, s pgapi.Stream) error {
	return nil
}

func (a *Allocator) Lock()   { a.mu.Lock() }
func (a *Allocator) Unlock() { a.mu.Unlock() }
