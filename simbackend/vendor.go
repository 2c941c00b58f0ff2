package simbackend

import (
	"crypto/rand"
	"sync"
	"sync/atomic"

	"distcomm/pgapi"
)

// Communicator is a CPU reference pgapi.Communicator. It carries the rank
// and group that let CommLib actually combine data across the simulated
// cluster's goroutines-as-ranks. Tests drive asynchronous failures by
// calling InjectAsyncError or Abort directly.
type Communicator struct {
	rank  int
	group *group

	aborted  atomic.Bool
	asyncErr atomic.Pointer[error]
}

func (c *Communicator) Abort() error {
	c.aborted.Store(true)
	return nil
}

func (c *Communicator) CheckAsyncError() error {
	if p := c.asyncErr.Load(); p != nil {
		return *p
	}
	return nil
}

// InjectAsyncError makes future CheckAsyncError calls return err, simulating
// a vendor-detected asynchronous failure (e.g. a hung peer).
func (c *Communicator) InjectAsyncError(err error) {
	c.asyncErr.Store(&err)
}

func (c *Communicator) Aborted() bool { return c.aborted.Load() }

// CommLib is a CPU reference pgapi.CommLib shared by every simulated rank
// in one process. Ranks that CommInitRank with the same UniqueID join the
// same group and rendezvous there on every subsequent collective call.
type CommLib struct {
	mu     sync.Mutex
	groups map[string]*group
}

func NewCommLib() *CommLib {
	return &CommLib{groups: make(map[string]*group)}
}

func (l *CommLib) GenerateUniqueID() (pgapi.UniqueID, error) {
	var id pgapi.UniqueID
	if _, err := rand.Read(id[:]); err != nil {
		return id, pgapi.Wrap(pgapi.DriverError, err, "simbackend: failed to mint unique id")
	}
	return id, nil
}

func (l *CommLib) CommInitRank(globalSize, globalRank int, id pgapi.UniqueID) (pgapi.Communicator, error) {
	if globalSize <= 0 || globalRank < 0 || globalRank >= globalSize {
		return nil, pgapi.Newf(pgapi.InvalidArgument, "invalid (size=%d, rank=%d) for CommInitRank", globalSize, globalRank)
	}
	hex := id.Hex()
	l.mu.Lock()
	g, ok := l.groups[hex]
	if !ok {
		g = newGroup(globalSize)
		l.groups[hex] = g
	}
	l.mu.Unlock()
	if g.size != globalSize {
		return nil, pgapi.Newf(pgapi.InvalidArgument,
			"unique id %s already bound to a group of size %d, got %d", hex, g.size, globalSize)
	}
	return &Communicator{rank: globalRank, group: g}, nil
}

// GroupStart/GroupEnd have nothing to defer in this reference backend: every
// call below runs synchronously on the caller's goroutine.
func (l *CommLib) GroupStart() error { return nil }
func (l *CommLib) GroupEnd() error   { return nil }

func asFloat64(t pgapi.Tensor) []float64 {
	return t.(*Tensor).Data()
}

func commOf(c pgapi.Communicator) *Communicator {
	return c.(*Communicator)
}

func (l *CommLib) AllReduce(comm pgapi.Communicator, s pgapi.Stream, in, out pgapi.Tensor, op pgapi.ReduceOp) error {
	c := commOf(comm)
	c.group.join(&contribution{rank: c.rank, in: asFloat64(in), out: asFloat64(out), op: op, kind: opAllReduce})
	return nil
}

func (l *CommLib) Broadcast(comm pgapi.Communicator, s pgapi.Stream, in, out pgapi.Tensor, root int) error {
	c := commOf(comm)
	c.group.join(&contribution{rank: c.rank, in: asFloat64(in), out: asFloat64(out), root: root, kind: opBroadcast})
	return nil
}

func (l *CommLib) Reduce(comm pgapi.Communicator, s pgapi.Stream, in, out pgapi.Tensor, op pgapi.ReduceOp, root int) error {
	c := commOf(comm)
	outSlice := []float64(nil)
	if c.rank == root {
		outSlice = asFloat64(out)
	}
	c.group.join(&contribution{rank: c.rank, in: asFloat64(in), out: outSlice, op: op, root: root, kind: opReduce})
	return nil
}

func (l *CommLib) AllGather(comm pgapi.Communicator, s pgapi.Stream, in, out pgapi.Tensor) error {
	c := commOf(comm)
	c.group.join(&contribution{rank: c.rank, in: asFloat64(in), out: asFloat64(out), kind: opAllGather})
	return nil
}

func (l *CommLib) ReduceScatter(comm pgapi.Communicator, s pgapi.Stream, in, out pgapi.Tensor, op pgapi.ReduceOp) error {
	c := commOf(comm)
	c.group.join(&contribution{rank: c.rank, in: asFloat64(in), out: asFloat64(out), op: op, kind: opReduceScatter})
	return nil
}

func (l *CommLib) Send(comm pgapi.Communicator, s pgapi.Stream, t pgapi.Tensor, peerRank int) error {
	c := commOf(comm)
	c.group.send(c.rank, peerRank, asFloat64(t))
	return nil
}

func (l *CommLib) Recv(comm pgapi.Communicator, s pgapi.Stream, t pgapi.Tensor, peerRank int) error {
	c := commOf(comm)
	c.group.recv(peerRank, c.rank, asFloat64(t))
	return nil
}

// reduceInto applies op element-wise between dst and src and stores the
// result in dst: the same max/min/sum/product arithmetic the teacher's GPU
// device simulator ran on deserialized matrices, adapted to flat slices.
func reduceInto(dst, src []float64, op pgapi.ReduceOp) error {
	if len(dst) != len(src) {
		return pgapi.Newf(pgapi.InvalidArgument, "reduce operands have different lengths: %d vs %d", len(dst), len(src))
	}
	switch op {
	case pgapi.Sum:
		for i := range dst {
			dst[i] += src[i]
		}
	case pgapi.Max:
		for i := range dst {
			dst[i] = max(dst[i], src[i])
		}
	case pgapi.Min:
		for i := range dst {
			dst[i] = min(dst[i], src[i])
		}
	case pgapi.Product:
		for i := range dst {
			dst[i] *= src[i]
		}
	default:
		return pgapi.Newf(pgapi.InvalidArgument, "unknown reduce op %v", op)
	}
	return nil
}
