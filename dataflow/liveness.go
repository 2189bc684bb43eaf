package dataflow

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
)

// VarSet is a set of variable names.
type VarSet = mapset.Set[string]

// Liveness is the backward live-variable analysis: a variable is live at a
// point if some path from it reaches a use before any redefinition.
//
// Phi arguments are treated as uses at the phi's own block. Strictly they are
// uses at the end of the corresponding predecessor; folding them into the
// block over-approximates liveness, which is the safe direction for every
// consumer here (dead-code elimination only deletes what is provably dead).
type Liveness struct{}

func (Liveness) Name() string { return "live" }

func (Liveness) Direction() Direction { return Backward }

// Boundary: nothing is live after a function returns.
func (Liveness) Boundary(g *cfg.Graph) VarSet { return mapset.NewThreadUnsafeSet[string]() }

func (Liveness) Init(g *cfg.Graph) VarSet { return mapset.NewThreadUnsafeSet[string]() }

// Transfer maps the block's live-out set to its live-in set by scanning the
// instructions in reverse: a definition kills, a use gens.
func (Liveness) Transfer(g *cfg.Graph, id int, out VarSet) VarSet {
	live := out.Clone()
	instrs := g.Blocks[id].Instrs
	for i := len(instrs) - 1; i >= 0; i-- {
		switch instr := instrs[i].(type) {
		case *bril.Const:
			live.Remove(instr.Dest)
		case *bril.Op:
			if instr.Dest != "" {
				live.Remove(instr.Dest)
			}
			for _, a := range instr.Args {
				if a != bril.Undefined {
					live.Add(a)
				}
			}
		}
	}
	return live
}

func (Liveness) Meet(values []VarSet) VarSet {
	out := mapset.NewThreadUnsafeSet[string]()
	for _, v := range values {
		out = out.Union(v)
	}
	return out
}

func (Liveness) Equal(a, b VarSet) bool { return a.Equal(b) }
