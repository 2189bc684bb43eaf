// Package dom computes dominator sets, the dominator tree and dominance
// frontiers for a control-flow graph. Sets are bitsets over the dense block
// ids of the graph arena, so membership tests and intersections are cheap
// even for wide graphs.
package dom

import (
	"github.com/willf/bitset"

	"github.com/brilang/go-bril/cfg"
)

// Info holds the dominance structures of one graph. It is immutable after
// Compute and safe for shared read access.
type Info struct {
	g         *cfg.Graph
	dom       []*bitset.BitSet // dom[b]: blocks dominating b, b included
	idom      []int            // immediate dominator, -1 for entry and unreachable blocks
	children  [][]int          // dominator tree children, ascending ids
	frontier  []*bitset.BitSet // dominance frontier of each block
	reachable *bitset.BitSet
}

// Compute runs the iterative dominator-set algorithm:
//
//	dom(entry) = {entry}
//	dom(b)     = {b} ∪ ⋂ dom(p) over predecessors p
//
// to a fixpoint, then derives immediate dominators, the dominator tree and
// the dominance frontiers. Unreachable blocks keep the full set and are
// excluded from the tree and the frontiers; their entries are never consulted
// by the passes, which prune unreachable code first.
func Compute(g *cfg.Graph) *Info {
	n := uint(g.Len())
	full := bitset.New(n)
	for i := uint(0); i < n; i++ {
		full.Set(i)
	}

	info := &Info{
		g:         g,
		dom:       make([]*bitset.BitSet, n),
		idom:      make([]int, n),
		children:  make([][]int, n),
		frontier:  make([]*bitset.BitSet, n),
		reachable: bitset.New(n),
	}
	for i := range info.frontier {
		info.frontier[i] = bitset.New(n)
	}

	info.dom[0] = bitset.New(n).Set(0)
	for id := 1; id < g.Len(); id++ {
		info.dom[id] = full.Clone()
	}

	for changed := true; changed; {
		changed = false
		for id := 1; id < g.Len(); id++ {
			b := g.Blocks[id]
			next := full.Clone()
			for _, p := range b.Preds {
				next.InPlaceIntersection(info.dom[p])
			}
			next.Set(uint(id))
			if !next.Equal(info.dom[id]) {
				info.dom[id] = next
				changed = true
			}
		}
	}

	info.markReachable()
	info.deriveTree()
	info.deriveFrontiers()
	return info
}

func (i *Info) markReachable() {
	stack := []int{0}
	i.reachable.Set(0)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range i.g.Blocks[id].Succs {
			if !i.reachable.Test(uint(s)) {
				i.reachable.Set(uint(s))
				stack = append(stack, s)
			}
		}
	}
}

// deriveTree finds, for every reachable non-entry block, the strict dominator
// that every other strict dominator dominates.
func (i *Info) deriveTree() {
	for id := range i.idom {
		i.idom[id] = -1
	}
	for id := 1; id < i.g.Len(); id++ {
		if !i.reachable.Test(uint(id)) {
			continue
		}
		strict := i.dom[id].Clone()
		strict.Clear(uint(id))
		for c, ok := strict.NextSet(0); ok; c, ok = strict.NextSet(c + 1) {
			// c is the immediate dominator iff every other strict
			// dominator of id also dominates c.
			if strict.Difference(i.dom[c]).Count() == 0 {
				i.idom[id] = int(c)
				break
			}
		}
		if p := i.idom[id]; p >= 0 {
			i.children[p] = append(i.children[p], id)
		}
	}
}

// deriveFrontiers uses the runner formulation: for each join block, every
// predecessor walks up the dominator tree, collecting the join into each
// walker's frontier, stopping at (and excluding) the join's immediate
// dominator.
func (i *Info) deriveFrontiers() {
	for _, b := range i.g.Blocks {
		if len(b.Preds) < 2 || !i.reachable.Test(uint(b.ID)) {
			continue
		}
		for _, p := range b.Preds {
			if !i.reachable.Test(uint(p)) {
				continue
			}
			runner := p
			for runner != -1 && runner != i.idom[b.ID] {
				i.frontier[runner].Set(uint(b.ID))
				runner = i.idom[runner]
			}
		}
	}
}

// Dominates reports whether a dominates b (reflexively).
func (i *Info) Dominates(a, b int) bool {
	return i.dom[b].Test(uint(a))
}

// StrictlyDominates reports whether a dominates b and a != b.
func (i *Info) StrictlyDominates(a, b int) bool {
	return a != b && i.Dominates(a, b)
}

// Idom returns the immediate dominator of b, or -1 for the entry block and
// unreachable blocks.
func (i *Info) Idom(b int) int { return i.idom[b] }

// Children returns the dominator-tree children of b in ascending id order.
func (i *Info) Children(b int) []int { return i.children[b] }

// Dominators returns the full dominator set of b in ascending id order.
func (i *Info) Dominators(b int) []int {
	return setToSlice(i.dom[b])
}

// Frontier returns the dominance frontier of b in ascending id order.
func (i *Info) Frontier(b int) []int {
	return setToSlice(i.frontier[b])
}

// Reachable reports whether b can be reached from the entry block.
func (i *Info) Reachable(b int) bool { return i.reachable.Test(uint(b)) }

func setToSlice(s *bitset.BitSet) []int {
	out := make([]int, 0, s.Count())
	for v, ok := s.NextSet(0); ok; v, ok = s.NextSet(v + 1) {
		out = append(out, int(v))
	}
	return out
}
