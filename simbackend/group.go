package simbackend

import (
	"sync"

	"distcomm/pgapi"
)

// opKind distinguishes the shapes of contribution a group.join call
// combines. simbackend runs every rank of a simulated cluster as a
// goroutine inside one process, so a collective's cross-rank combination
// can be done in-process by the last contributor to arrive, instead of over
// a real network.
type opKind int

const (
	opAllReduce opKind = iota
	opBroadcast
	opReduce
	opAllGather
	opReduceScatter
)

type contribution struct {
	rank int
	in   []float64
	out  []float64
	op   pgapi.ReduceOp
	root int
	kind opKind
}

// group is the in-process stand-in for a vendor communicator group: "size"
// goroutines (ranks) rendezvous on it once per collective call.
type group struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	gen     int
	arrived int
	slots   []*contribution

	p2pMu   sync.Mutex
	pending map[[2]int]chan []float64
}

func newGroup(size int) *group {
	g := &group{size: size, slots: make([]*contribution, size), pending: make(map[[2]int]chan []float64)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// join blocks until all `size` ranks have submitted a contribution for the
// collective, then returns once the last arrival has computed and written
// every rank's result. Callers in the same process must call join for their
// collectives in the same relative order (the same caller contract the real
// rendezvous relies on).
func (g *group) join(c *contribution) {
	g.mu.Lock()
	myGen := g.gen
	g.slots[c.rank] = c
	g.arrived++
	if g.arrived == g.size {
		compute(g.slots, g.size)
		g.arrived = 0
		g.slots = make([]*contribution, g.size)
		g.gen++
		g.cond.Broadcast()
	} else {
		for g.gen == myGen {
			g.cond.Wait()
		}
	}
	g.mu.Unlock()
}

func compute(slots []*contribution, size int) {
	switch slots[0].kind {
	case opAllReduce:
		acc := append([]float64(nil), slots[0].in...)
		for i := 1; i < size; i++ {
			_ = reduceInto(acc, slots[i].in, slots[0].op)
		}
		for i := 0; i < size; i++ {
			copy(slots[i].out, acc)
		}
	case opBroadcast:
		src := slots[slots[0].root].in
		for i := 0; i < size; i++ {
			copy(slots[i].out, src)
		}
	case opReduce:
		acc := append([]float64(nil), slots[0].in...)
		for i := 1; i < size; i++ {
			_ = reduceInto(acc, slots[i].in, slots[0].op)
		}
		copy(slots[slots[0].root].out, acc)
	case opAllGather:
		chunk := len(slots[0].in)
		for i := 0; i < size; i++ {
			for r := 0; r < size; r++ {
				copy(slots[i].out[r*chunk:(r+1)*chunk], slots[r].in)
			}
		}
	case opReduceScatter:
		chunk := len(slots[0].out)
		for r := 0; r < size; r++ {
			acc := make([]float64, chunk)
			copy(acc, slots[0].in[r*chunk:(r+1)*chunk])
			for i := 1; i < size; i++ {
				_ = reduceInto(acc, slots[i].in[r*chunk:(r+1)*chunk], slots[0].op)
			}
			copy(slots[r].out, acc)
		}
	}
}

// send/recv implement batched_p2p's pairwise exchange outside the
// all-participants barrier above: only the two ranks in the pair
// rendezvous, via a one-shot buffered channel keyed by (src, dst).
func (g *group) send(src, dst int, data []float64) {
	ch := g.p2pChan(src, dst)
	ch <- append([]float64(nil), data...)
}

func (g *group) recv(src, dst int, out []float64) {
	ch := g.p2pChan(src, dst)
	data := <-ch
	copy(out, data)
	g.p2pMu.Lock()
	delete(g.pending, [2]int{src, dst})
	g.p2pMu.Unlock()
}

func (g *group) p2pChan(src, dst int) chan []float64 {
	key := [2]int{src, dst}
	g.p2pMu.Lock()
	defer g.p2pMu.Unlock()
	ch, ok := g.pending[key]
	if !ok {
		ch = make(chan []float64, 1)
		g.pending[key] = ch
	}
	return ch
}
