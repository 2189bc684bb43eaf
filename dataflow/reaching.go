package dataflow

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
)

// DefSite identifies a definition point. Function parameters use Block -1 and
// their parameter index.
type DefSite struct {
	Block int
	Index int
}

// DefMap maps variable names to the definition sites that may reach a point.
type DefMap map[string]mapset.Set[DefSite]

// Clone deep-copies the map.
func (m DefMap) Clone() DefMap {
	out := make(DefMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Reaching is the forward reaching-definitions analysis: which definitions of
// each variable may still be current at a point. On SSA input every set is a
// singleton.
type Reaching struct{}

func (Reaching) Name() string { return "reachdefs" }

func (Reaching) Direction() Direction { return Forward }

// Boundary: parameters are defined at function entry.
func (Reaching) Boundary(g *cfg.Graph) DefMap {
	m := DefMap{}
	for i, arg := range g.Fn.Args {
		m[arg.Name] = mapset.NewThreadUnsafeSet(DefSite{Block: -1, Index: i})
	}
	return m
}

func (Reaching) Init(g *cfg.Graph) DefMap { return DefMap{} }

func (Reaching) Transfer(g *cfg.Graph, id int, in DefMap) DefMap {
	m := in.Clone()
	for idx, instr := range g.Blocks[id].Instrs {
		dest := ""
		switch instr := instr.(type) {
		case *bril.Const:
			dest = instr.Dest
		case *bril.Op:
			dest = instr.Dest
		}
		if dest != "" {
			m[dest] = mapset.NewThreadUnsafeSet(DefSite{Block: id, Index: idx})
		}
	}
	return m
}

// Meet unions the maps pointwise.
func (Reaching) Meet(values []DefMap) DefMap {
	out := DefMap{}
	for _, m := range values {
		for k, v := range m {
			if have, ok := out[k]; ok {
				out[k] = have.Union(v)
			} else {
				out[k] = v.Clone()
			}
		}
	}
	return out
}

func (Reaching) Equal(x, y DefMap) bool {
	if len(x) != len(y) {
		return false
	}
	for k, v := range x {
		other, ok := y[k]
		if !ok || !other.Equal(v) {
			return false
		}
	}
	return true
}
