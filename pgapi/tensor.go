// Package pgapi defines the contracts the process-group core needs from its
// external collaborators: the tensor runtime, the device driver, the vendor
// collective library, and the key-value rendezvous store. None of these are
// implemented here; package simbackend provides a CPU reference
// implementation for tests and the bundled demo.
package pgapi

// DType enumerates the scalar types a collective can move, matching the
// fixed mapping in the spec's dtype table.
type DType int

const (
	Int8 DType = iota
	Uint8
	Float16
	Int32
	Int64
	Float32
	Float64
)

func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Storage identifies the underlying allocation a Tensor's data lives in.
// Two tensors alias the same memory iff Storage() returns equal values.
type Storage interface {
	// ID is a stable, comparable identity for this allocation.
	ID() uintptr
	// Size is the storage's total element capacity (not byte size).
	Size() int64
}

// Tensor is the subset of a tensor runtime's tensor type the process-group
// core needs: device residency, dtype, shape, contiguity, and storage
// aliasing. Implementations are supplied by the caller; simbackend.Tensor is
// a CPU reference implementation.
type Tensor interface {
	Device() int
	DType() DType
	Shape() []int64
	NumElem() int64
	IsContiguous() bool
	IsDense() bool
	Storage() Storage
	StorageOffset() int64
}

// Size0 returns the size of a tensor's leading dimension, used by
// check_split_sizes. Tensors with no dimensions have no leading dimension.
func Size0(t Tensor) (int64, bool) {
	shape := t.Shape()
	if len(shape) == 0 {
		return 0, false
	}
	return shape[0], true
}

// SameStorageRegion reports whether a and b alias the same storage at the
// exact same offset, used by the flattener's no-copy alias predicate.
func SameStorageRegion(a, b Tensor) bool {
	return a.Storage() != nil && a.Storage() == b.Storage() && a.StorageOffset() == b.StorageOffset()
}

// TensorFactory constructs fresh tensors. The flattener's fresh-allocation
// fallback and the process group facade's barrier placeholder tensors both
// need this slice of the tensor runtime's allocation surface.
type TensorFactory interface {
	NewTensor(device int, dtype DType, shape []int64) Tensor
}

// Copier copies src's elements into dst. dst and src must have equal
// numel. Used by all-gather's post-hook and reduce-scatter's pre-hook to
// move data between a user's per-rank tensors and the flattener's staging
// buffer when no-copy aliasing didn't apply.
type Copier interface {
	Copy(dst, src Tensor) error
}

// Viewable is implemented by tensor runtimes that can hand back a zero-copy
// view over existing storage. The flattener's no-copy fast path needs this;
// a runtime that doesn't implement it just never takes the fast path, and
// no-copy silently falls back to a fresh flat allocation.
type Viewable interface {
	Tensor
	// ViewFlat returns a 1-D view of numel elements starting offsetElems
	// into the same storage.
	ViewFlat(offsetElems, numel int64) Tensor
}
