package processgroup

import (
	"distcomm/commcache"
	"distcomm/internal/flatten"
	"distcomm/internal/validate"
	"distcomm/pgapi"
	"distcomm/work"
)

// AllGather writes, for every device i, world_size chunks into
// outputLists[i] (one per rank) from inputs[i]. noCopy lets the flattener
// skip the staging copy when outputLists[i] is already laid out flat and
// aliases inputs[i] at this rank's slot.
func (pg *ProcessGroup) AllGather(outputLists [][]pgapi.Tensor, inputs []pgapi.Tensor, noCopy bool) (*work.Work, error) {
	if err := validate.GPUTensors(inputs, pg.opts.LocalDeviceCount, false); err != nil {
		return nil, err
	}
	flatOut, err := flatten.ForScatterGather(pg.deps.Factory, outputLists, inputs, pg.opts.Size, pg.opts.Rank, noCopy)
	if err != nil {
		return nil, err
	}

	fn := func(in, out pgapi.Tensor, comm pgapi.Communicator, stream pgapi.Stream) error {
		if err := pg.deps.CommLib.AllGather(comm, stream, in, out); err != nil {
			return err
		}
		return pg.registerOutputIfDistinct(in, out, stream)
	}
	post := func(streams commcache.StreamGroup) error {
		return pg.fanOut(outputLists, flatOut)
	}

	return pg.driver.Collective(deviceListOf(inputs), inputs, flatOut, fn, nil, post)
}

// ReduceScatter reduces, for every device i, world_size chunks from
// inputLists[i] (one per rank) into outputs[i].
func (pg *ProcessGroup) ReduceScatter(outputs []pgapi.Tensor, inputLists [][]pgapi.Tensor, op pgapi.ReduceOp, noCopy bool) (*work.Work, error) {
	if err := validate.GPUTensors(outputs, pg.opts.LocalDeviceCount, false); err != nil {
		return nil, err
	}
	flatIn, err := flatten.ForScatterGather(pg.deps.Factory, inputLists, outputs, pg.opts.Size, pg.opts.Rank, noCopy)
	if err != nil {
		return nil, err
	}

	pre := func(streams commcache.StreamGroup) error {
		return pg.fanIn(inputLists, flatIn)
	}
	fn := func(in, out pgapi.Tensor, comm pgapi.Communicator, stream pgapi.Stream) error {
		if err := pg.deps.CommLib.ReduceScatter(comm, stream, in, out, op); err != nil {
			return err
		}
		return pg.registerOutputIfDistinct(in, out, stream)
	}

	return pg.driver.Collective(deviceListOf(outputs), flatIn, outputs, fn, pre, nil)
}

// fanOut copies each flat[i]'s j-th chunk back into outputLists[i][j],
// unless outputLists[i][j] already aliases that exact chunk (the no-copy
// fast path took effect and flat[i] is a view over the list entries'
// storage).
func (pg *ProcessGroup) fanOut(outputLists [][]pgapi.Tensor, flat []pgapi.Tensor) error {
	for i, perDevice := range outputLists {
		if err := pg.fanChunks(flat[i], perDevice); err != nil {
			return err
		}
	}
	return nil
}

// fanIn is fanOut's mirror: it copies inputLists[i][j] into flat[i]'s j-th
// chunk, unless that chunk already aliases inputLists[i][j].
func (pg *ProcessGroup) fanIn(inputLists [][]pgapi.Tensor, flat []pgapi.Tensor) error {
	for i, perDevice := range inputLists {
		if err := pg.fanChunksInto(perDevice, flat[i]); err != nil {
			return err
		}
	}
	return nil
}

func (pg *ProcessGroup) fanChunks(flat pgapi.Tensor, perRank []pgapi.Tensor) error {
	view, ok := flat.(pgapi.Viewable)
	if !ok {
		return pgapi.Newf(pgapi.DriverError, "processgroup: flat staging tensor %T cannot be viewed", flat)
	}
	chunkNumel := perRank[0].NumElem()
	for j, dst := range perRank {
		chunk := view.ViewFlat(flat.StorageOffset()+int64(j)*chunkNumel, chunkNumel)
		if pgapi.SameStorageRegion(dst, chunk) {
			continue
		}
		if err := pg.deps.Copier.Copy(dst, chunk); err != nil {
			return pgapi.Wrap(pgapi.DriverError, err, "processgroup: fan out chunk copy")
		}
	}
	return nil
}

func (pg *ProcessGroup) fanChunksInto(perRank []pgapi.Tensor, flat pgapi.Tensor) error {
	view, ok := flat.(pgapi.Viewable)
	if !ok {
		return pgapi.Newf(pgapi.DriverError, "processgroup: flat staging tensor %T cannot be viewed", flat)
	}
	chunkNumel := perRank[0].NumElem()
	for j, src := range perRank {
		chunk := view.ViewFlat(flat.StorageOffset()+int64(j)*chunkNumel, chunkNumel)
		if pgapi.SameStorageRegion(src, chunk) {
			continue
		}
		if err := pg.deps.Copier.Copy(chunk, src); err != nil {
			return pgapi.Wrap(pgapi.DriverError, err, "processgroup: fan in chunk copy")
		}
	}
	return nil
}
