package processgroup

import (
	"distcomm/pgapi"
	"distcomm/work"
)

// The operations below are explicitly out of scope: point-to-point send/recv
// as public ops, gather, scatter, and the coalesced collective variants.
// Each returns an Unsupported error rather than a panic or a silent no-op,
// so a caller wired against the full original surface fails loudly and
// immediately instead of hanging on a Work that never completes.

func (pg *ProcessGroup) AllReduceCoalesced(tensors []pgapi.Tensor, op pgapi.ReduceOp) (*work.Work, error) {
	return nil, pgapi.Newf(pgapi.Unsupported, "processgroup: allreduce_coalesced is not supported")
}

func (pg *ProcessGroup) AllGatherCoalesced(outputLists [][]pgapi.Tensor, inputs []pgapi.Tensor) (*work.Work, error) {
	return nil, pgapi.Newf(pgapi.Unsupported, "processgroup: allgather_coalesced is not supported")
}

func (pg *ProcessGroup) AllGatherBase(output, input pgapi.Tensor) (*work.Work, error) {
	return nil, pgapi.Newf(pgapi.Unsupported, "processgroup: allgather_base is not supported")
}

func (pg *ProcessGroup) Gather(outputLists [][]pgapi.Tensor, inputs []pgapi.Tensor, rootRank int) (*work.Work, error) {
	return nil, pgapi.Newf(pgapi.Unsupported, "processgroup: gather is not supported")
}

func (pg *ProcessGroup) Scatter(outputs []pgapi.Tensor, inputLists [][]pgapi.Tensor, rootRank int) (*work.Work, error) {
	return nil, pgapi.Newf(pgapi.Unsupported, "processgroup: scatter is not supported")
}

func (pg *ProcessGroup) Send(tensor pgapi.Tensor, dstRank, tag int) (*work.Work, error) {
	return nil, pgapi.Newf(pgapi.Unsupported, "processgroup: send is not supported")
}

func (pg *ProcessGroup) Recv(tensor pgapi.Tensor, srcRank, tag int) (*work.Work, error) {
	return nil, pgapi.Newf(pgapi.Unsupported, "processgroup: recv is not supported")
}

func (pg *ProcessGroup) RecvAnySource(tensor pgapi.Tensor, tag int) (*work.Work, error) {
	return nil, pgapi.Newf(pgapi.Unsupported, "processgroup: recv_any_source is not supported")
}
