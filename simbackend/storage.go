// Package simbackend is a CPU-only reference implementation of pgapi's
// external-collaborator contracts: tensors backed by plain float64 slices,
// a single-goroutine device driver with synchronous "streams" and events,
// and a vendor collective library whose reduce arithmetic is the same
// element-wise max/min/sum/product math the teacher's GPU device simulator
// ran on serialized matrices. It exists for tests and cmd/demo; it is not
// part of the public contract.
package simbackend

import "unsafe"

// storage is the backing allocation a Tensor's data lives in. Two tensors
// alias the same memory iff they share a *storage pointer.
type storage struct {
	data []float64
}

func newStorage(n int64) *storage {
	return &storage{data: make([]float64, n)}
}

func (s *storage) ID() uintptr {
	return uintptr(unsafe.Pointer(s))
}

func (s *storage) Size() int64 {
	return int64(len(s.data))
}
