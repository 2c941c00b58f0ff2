// Package flatten builds the contiguous staging tensors all-gather and
// reduce-scatter submit into, with an opt-in no-copy fast path that aliases
// existing storage when the caller's buffers are already laid out flat.
package flatten

import "distcomm/pgapi"

// ForScatterGather builds one staging tensor per device, sized
// worldSize*other[i].NumElem(). lists[i] must have exactly
// worldSize*len(other) entries, all on other[i]'s device with other[i]'s
// numel.
//
// When noCopy is requested, a device's staging tensor is instead a view
// over lists[i]'s existing storage iff every lists[i][j] aliases
// lists[i][0]'s storage at offset lists[i][0].offset + j*numel, and, if
// other[i] aliases that same storage, it does so at offset
// lists[i][0].offset + rank*numel. Any failed check silently falls back to
// a fresh allocation for that device; noCopy is a best-effort hint, never
// a correctness requirement.
func ForScatterGather(factory pgapi.TensorFactory, lists [][]pgapi.Tensor, other []pgapi.Tensor, worldSize, rank int, noCopy bool) ([]pgapi.Tensor, error) {
	if len(lists) != len(other) {
		return nil, pgapi.Newf(pgapi.InvalidArgument,
			"lists has %d devices, other has %d", len(lists), len(other))
	}

	flat := make([]pgapi.Tensor, len(lists))
	for i, perDevice := range lists {
		o := other[i]
		if len(perDevice) != worldSize*len(other) {
			return nil, pgapi.Newf(pgapi.InvalidArgument,
				"device %d: list has %d tensors, expected world_size*num_devices %d", i, len(perDevice), worldSize*len(other))
		}
		for j, t := range perDevice {
			if t.Device() != o.Device() {
				return nil, pgapi.Newf(pgapi.InvalidArgument,
					"device %d: list entry %d is on device %d, expected %d", i, j, t.Device(), o.Device())
			}
			if t.NumElem() != o.NumElem() {
				return nil, pgapi.Newf(pgapi.InvalidArgument,
					"device %d: list entry %d has numel %d, expected %d", i, j, t.NumElem(), o.NumElem())
			}
		}

		if noCopy {
			if view, ok := aliasedView(perDevice, o, rank); ok {
				flat[i] = view
				continue
			}
		}
		flat[i] = factory.NewTensor(o.Device(), o.DType(), []int64{o.NumElem() * int64(worldSize)})
	}
	return flat, nil
}

// aliasedView checks the no-copy alias predicate from the flattener's
// contract and, if it holds for every element, returns a single flat view
// spanning all worldSize chunks starting at lists[i][0]'s offset.
func aliasedView(perDevice []pgapi.Tensor, other pgapi.Tensor, rank int) (pgapi.Tensor, bool) {
	base, ok := perDevice[0].(pgapi.Viewable)
	if !ok {
		return nil, false
	}
	numel := base.NumElem()
	for j, t := range perDevice {
		if !pgapi.SameStorageRegion(t, offsetOf(base, int64(j)*numel)) {
			return nil, false
		}
	}
	if other.Storage() != nil && other.Storage() == base.Storage() {
		if !pgapi.SameStorageRegion(other, offsetOf(base, int64(rank)*numel)) {
			return nil, false
		}
	}
	return base.ViewFlat(base.StorageOffset(), numel*int64(len(perDevice))), true
}

// offsetOf returns a lightweight comparison tensor representing base's
// storage at a different offset, used only to drive SameStorageRegion
// comparisons above.
func offsetOf(base pgapi.Tensor, extraOffset int64) pgapi.Tensor {
	return &offsetTensor{Tensor: base, offset: base.StorageOffset() + extraOffset}
}

type offsetTensor struct {
	pgapi.Tensor
	offset int64
}

func (o *offsetTensor) StorageOffset() int64 { return o.offset }
