package simbackend

import "distcomm/pgapi"

// Tensor is a CPU reference Tensor: a contiguous view with shape, device
// index, and dtype, backed by a *storage that may be shared (aliased) with
// other Tensors at different offsets.
type Tensor struct {
	device  int
	dtype   pgapi.DType
	shape   []int64
	storage *storage
	offset  int64
	// nonContiguous marks a view deliberately constructed to fail
	// Validator's contiguity check, for tests.
	nonContiguous bool
}

// NewTensor allocates a fresh, contiguous Tensor of the given shape on
// device, backed by its own private storage.
func NewTensor(device int, dtype pgapi.DType, shape []int64) *Tensor {
	n := numel(shape)
	return &Tensor{device: device, dtype: dtype, shape: shape, storage: newStorage(n)}
}

// View returns a Tensor sharing t's storage starting offsetElems elements
// further in, with the given shape. numel(shape) must fit within the remaining
// storage.
func (t *Tensor) View(offsetElems int64, shape []int64) *Tensor {
	return &Tensor{
		device:  t.device,
		dtype:   t.dtype,
		shape:   shape,
		storage: t.storage,
		offset:  t.offset + offsetElems,
	}
}

// ViewFlat implements pgapi.Viewable: a 1-D view of numel elements starting
// offsetElems into t's storage.
func (t *Tensor) ViewFlat(offsetElems, numel int64) pgapi.Tensor {
	return t.View(offsetElems, []int64{numel})
}

// MarkNonContiguous returns a copy of t that reports IsContiguous() == false,
// for exercising the Validator's contiguity check.
func (t *Tensor) MarkNonContiguous() *Tensor {
	clone := *t
	clone.nonContiguous = true
	return &clone
}

func (t *Tensor) Device() int           { return t.device }
func (t *Tensor) DType() pgapi.DType    { return t.dtype }
func (t *Tensor) Shape() []int64        { return t.shape }
func (t *Tensor) NumElem() int64        { return numel(t.shape) }
func (t *Tensor) IsContiguous() bool    { return !t.nonContiguous }
func (t *Tensor) IsDense() bool         { return true }
func (t *Tensor) Storage() pgapi.Storage { return t.storage }
func (t *Tensor) StorageOffset() int64  { return t.offset }

// Data returns the slice of the backing storage this tensor views, for the
// vendor collective library's math and for test assertions.
func (t *Tensor) Data() []float64 {
	n := t.NumElem()
	return t.storage.data[t.offset : t.offset+n]
}

// Factory is a CPU reference pgapi.TensorFactory.
type Factory struct{}

func NewFactory() Factory { return Factory{} }

func (Factory) NewTensor(device int, dtype pgapi.DType, shape []int64) pgapi.Tensor {
	return NewTensor(device, dtype, shape)
}

func numel(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
