// Package dataflow implements a single generic worklist fixpoint engine and
// the standard analyses built on it: constant propagation, liveness, alias
// analysis and reaching definitions. Every analysis is a Problem instance;
// none carries its own solver loop.
package dataflow

import (
	"errors"

	"github.com/willf/bitset"

	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/metrics"
)

var iterationMeter = metrics.NewRegisteredMeter("dataflow/iterations", nil)

// Direction selects how lattice values flow through the graph.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ErrNonConvergence reports that the engine exceeded its iteration bound.
// Monotone transfer functions always converge well inside it, so hitting the
// bound means the Problem implementation violates its contract; this is a
// programming error, not an input error.
var ErrNonConvergence = errors.New("dataflow analysis did not converge")

// Problem defines an analysis over the lattice V. The direction decides which
// way values propagate; Transfer always maps the value flowing into the block
// (block entry for forward problems, block exit for backward ones) to the
// value flowing out the other side. Transfer must not mutate or retain its
// input. Meet must be commutative and associative so results are independent
// of worklist order; an empty slice yields the neutral element.
type Problem[V any] interface {
	Name() string
	Direction() Direction
	Boundary(g *cfg.Graph) V
	Init(g *cfg.Graph) V
	Transfer(g *cfg.Graph, id int, in V) V
	Meet(values []V) V
	Equal(a, b V) bool
}

// Result holds the solved lattice values at every block's entry (In) and exit
// (Out) in program order, regardless of the analysis direction.
type Result[V any] struct {
	In  []V
	Out []V
}

// boundFactor scales the engine's iteration bound. Each block's value can
// change at most lattice-height times; the factor is a generous allowance for
// the tall map lattices the shipped analyses use.
const boundFactor = 256

// Solve runs the worklist fixpoint for p over g. The initial worklist holds
// every block: ascending ids for forward problems, descending for backward.
func Solve[V any](g *cfg.Graph, p Problem[V]) (*Result[V], error) {
	n := g.Len()
	order := make([]int, n)
	for i := range order {
		if p.Direction() == Forward {
			order[i] = i
		} else {
			order[i] = n - 1 - i
		}
	}
	return solveOrder(g, p, order)
}

// solveOrder is the engine proper; order is the initial queue content. Any
// permutation of the blocks must produce the same result (the order-
// independence tests rely on this entry point).
func solveOrder[V any](g *cfg.Graph, p Problem[V], order []int) (*Result[V], error) {
	var (
		n        = g.Len()
		forward  = p.Direction() == Forward
		boundary = p.Boundary(g)
		res      = &Result[V]{In: make([]V, n), Out: make([]V, n)}
		stored   = make([]V, n) // value on the propagation side of each block
	)
	for id := 0; id < n; id++ {
		stored[id] = p.Init(g)
		if forward {
			res.Out[id] = stored[id]
		} else {
			res.In[id] = stored[id]
		}
	}

	var (
		queue  = make([]int, 0, n)
		queued = bitset.New(uint(n))
	)
	push := func(id int) {
		if !queued.Test(uint(id)) {
			queued.Set(uint(id))
			queue = append(queue, id)
		}
	}
	for _, id := range order {
		push(id)
	}

	budget := (n + 2) * (edgeCount(g) + n + 2) * boundFactor
	iters := 0
	defer func() { iterationMeter.Mark(int64(iters)) }()
	for len(queue) > 0 {
		iters++
		if budget--; budget < 0 {
			return nil, ErrNonConvergence
		}
		id := queue[0]
		queue = queue[1:]
		queued.Clear(uint(id))

		b := g.Blocks[id]
		sources, sinks := b.Preds, b.Succs
		if !forward {
			sources, sinks = b.Succs, b.Preds
		}

		var in V
		if len(sources) == 0 {
			// Entry block (forward) or an exit block (backward).
			in = boundary
		} else {
			vals := make([]V, len(sources))
			for i, s := range sources {
				vals[i] = stored[s]
			}
			in = p.Meet(vals)
		}
		out := p.Transfer(g, id, in)

		if forward {
			res.In[id], res.Out[id] = in, out
		} else {
			res.Out[id], res.In[id] = in, out
		}
		if !p.Equal(out, stored[id]) {
			stored[id] = out
			for _, s := range sinks {
				push(s)
			}
		}
	}
	return res, nil
}

func edgeCount(g *cfg.Graph) int {
	edges := 0
	for _, b := range g.Blocks {
		edges += len(b.Succs)
	}
	return edges
}
