// Package validate implements the shape/dtype/contiguity/device-distinctness
// checks every collective entry point runs before touching a communicator,
// plus the split-size arithmetic used by alltoall.
package validate

import (
	"distcomm/pgapi"
)

// GPUTensors checks a batch of device tensors per spec.md §4.1.
//
// With allowUnequalAndSameDevice (the "permissive mode"), the device-count
// ceiling, the equal-shape check, and the pairwise-distinct-device check are
// dropped; the dense, dtype, and contiguity checks still apply.
func GPUTensors(ts []pgapi.Tensor, localDeviceCount int, allowUnequalAndSameDevice bool) error {
	if len(ts) == 0 {
		return pgapi.Newf(pgapi.InvalidArgument, "tensor list must not be empty")
	}
	if !allowUnequalAndSameDevice && len(ts) > localDeviceCount {
		return pgapi.Newf(pgapi.InvalidArgument,
			"tensor list length %d exceeds local device count %d", len(ts), localDeviceCount)
	}

	first := ts[0]
	seenDevices := make(map[int]struct{}, len(ts))
	for i, t := range ts {
		if !t.IsDense() {
			return pgapi.Newf(pgapi.InvalidArgument, "tensor %d is not device-resident/dense", i)
		}
		if t.DType() != first.DType() {
			return pgapi.Newf(pgapi.InvalidArgument,
				"tensor %d has dtype %s, expected %s", i, t.DType(), first.DType())
		}
		if !allowUnequalAndSameDevice && !equalShape(t.Shape(), first.Shape()) {
			return pgapi.Newf(pgapi.InvalidArgument,
				"tensor %d has shape %v, expected %v", i, t.Shape(), first.Shape())
		}
		if !t.IsContiguous() {
			return pgapi.Newf(pgapi.InvalidArgument, "tensor %d is not contiguous", i)
		}
		if !allowUnequalAndSameDevice {
			dev := t.Device()
			if _, dup := seenDevices[dev]; dup {
				return pgapi.Newf(pgapi.InvalidArgument, "duplicate device index %d in tensor list", dev)
			}
			seenDevices[dev] = struct{}{}
		}
	}
	return nil
}

// SplitSizes checks split-size arithmetic per spec.md §4.1. With empty
// splits, t's leading dimension must divide evenly by groupSize; otherwise
// splits must have exactly groupSize entries summing to t's leading
// dimension.
func SplitSizes(splits []int64, t pgapi.Tensor, groupSize int) error {
	dim0, ok := pgapi.Size0(t)
	if !ok {
		return pgapi.Newf(pgapi.InvalidArgument, "tensor has no leading dimension to split")
	}
	if len(splits) == 0 {
		if groupSize == 0 || dim0%int64(groupSize) != 0 {
			return pgapi.Newf(pgapi.InvalidArgument,
				"dim(0)=%d is not evenly divisible by group size %d", dim0, groupSize)
		}
		return nil
	}
	if len(splits) != groupSize {
		return pgapi.Newf(pgapi.InvalidArgument,
			"split_sizes has %d entries, expected group size %d", len(splits), groupSize)
	}
	var sum int64
	for _, s := range splits {
		sum += s
	}
	if sum != dim0 {
		return pgapi.Newf(pgapi.InvalidArgument,
			"split_sizes sum to %d, expected dim(0)=%d", sum, dim0)
	}
	return nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AssertUniqueIDWidth checks a rendezvous-fetched id has exactly the
// vendor-defined width, failing loudly on mismatch instead of silently
// truncating or zero-padding.
func AssertUniqueIDWidth(raw []byte) error {
	if len(raw) != pgapi.UniqueIDSize {
		return pgapi.Newf(pgapi.InvalidArgument,
			"unique id has width %d, expected %d", len(raw), pgapi.UniqueIDSize)
	}
	return nil
}
