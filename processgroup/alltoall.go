package processgroup

import (
	"distcomm/internal/validate"
	"distcomm/pgapi"
	"distcomm/work"
)

// AllToAllBase splits input and output into pg.opts.Size contiguous chunks
// (per inputSplitSizes/outputSplitSizes, or evenly if either is empty) and
// exchanges chunk i with peer rank i, via batched_p2p.
func (pg *ProcessGroup) AllToAllBase(output, input pgapi.Tensor, outputSplitSizes, inputSplitSizes []int64) (*work.Work, error) {
	if err := validate.SplitSizes(inputSplitSizes, input, pg.opts.Size); err != nil {
		return nil, err
	}
	if err := validate.SplitSizes(outputSplitSizes, output, pg.opts.Size); err != nil {
		return nil, err
	}

	inView, ok := input.(pgapi.Viewable)
	if !ok {
		return nil, pgapi.Newf(pgapi.DriverError, "processgroup: input tensor %T cannot be viewed", input)
	}
	outView, ok := output.(pgapi.Viewable)
	if !ok {
		return nil, pgapi.Newf(pgapi.DriverError, "processgroup: output tensor %T cannot be viewed", output)
	}

	sendChunks, err := splitIntoChunks(inView, inputSplitSizes, pg.opts.Size)
	if err != nil {
		return nil, err
	}
	recvChunks, err := splitIntoChunks(outView, outputSplitSizes, pg.opts.Size)
	if err != nil {
		return nil, err
	}

	return pg.driver.BatchedP2P(input.Device(), pg.opts.Size, sendChunks, recvChunks)
}

// AllToAll exchanges pre-split per-peer tensor lists directly: inputs[i] is
// sent to peer rank i, and outputs[i] receives from peer rank i.
func (pg *ProcessGroup) AllToAll(outputs, inputs []pgapi.Tensor) (*work.Work, error) {
	if err := validate.GPUTensors(inputs, pg.opts.LocalDeviceCount, true); err != nil {
		return nil, err
	}
	if err := validate.GPUTensors(outputs, pg.opts.LocalDeviceCount, true); err != nil {
		return nil, err
	}
	if len(inputs) != pg.opts.Size || len(outputs) != pg.opts.Size {
		return nil, pgapi.Newf(pgapi.InvalidArgument,
			"processgroup: alltoall needs %d input/output tensors, got %d/%d", pg.opts.Size, len(inputs), len(outputs))
	}
	return pg.driver.BatchedP2P(inputs[0].Device(), pg.opts.Size, inputs, outputs)
}

// splitIntoChunks builds groupSize views over t per sizes (or an even
// split if sizes is empty); t's leading dimension has already been
// validated against sizes by validate.SplitSizes.
func splitIntoChunks(t pgapi.Viewable, sizes []int64, groupSize int) ([]pgapi.Tensor, error) {
	dim0, ok := pgapi.Size0(t)
	if !ok {
		return nil, pgapi.Newf(pgapi.InvalidArgument, "processgroup: tensor has no leading dimension to split")
	}
	lens := sizes
	if len(lens) == 0 {
		chunk := dim0 / int64(groupSize)
		lens = make([]int64, groupSize)
		for i := range lens {
			lens[i] = chunk
		}
	}

	elemsPerRow := t.NumElem() / dim0
	chunks := make([]pgapi.Tensor, groupSize)
	var offset int64
	for i, n := range lens {
		numel := n * elemsPerRow
		chunks[i] = t.ViewFlat(t.StorageOffset()+offset, numel)
		offset += numel
	}
	return chunks, nil
}
