package processgroup

import (
	"distcomm/pgapi"
	"distcomm/work"
)

// Barrier synchronizes the group with an all-reduce over a 1-byte
// placeholder tensor on each active device. deviceOverride, if non-empty,
// picks the devices explicitly; otherwise it falls back to every device
// ever used by a prior collective, or rank%localDeviceCount if none has
// been used yet.
func (pg *ProcessGroup) Barrier(deviceOverride []int) (*work.Work, error) {
	devices := deviceOverride
	if len(devices) == 0 {
		devices = pg.cache.UsedDevices()
	}
	if len(devices) == 0 {
		devices = []int{pg.opts.Rank % pg.opts.LocalDeviceCount}
	}

	placeholders := make([]pgapi.Tensor, len(devices))
	for i, d := range devices {
		placeholders[i] = pg.deps.Factory.NewTensor(d, pgapi.Uint8, []int64{1})
	}

	fn := func(in, out pgapi.Tensor, comm pgapi.Communicator, stream pgapi.Stream) error {
		return pg.deps.CommLib.AllReduce(comm, stream, in, out, pgapi.Sum)
	}

	w, err := pg.driver.Collective(devices, placeholders, placeholders, fn, nil, nil)
	if err != nil {
		return nil, err
	}
	w.SetBarrierTensors(placeholders)
	return w, nil
}
