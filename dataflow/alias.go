package dataflow

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
)

// ExternalLocation is the abstract location for memory the function did not
// allocate itself: whatever pointer-typed parameters refer to, and anything a
// call may have handed out.
const ExternalLocation = 0

// PtsMap maps pointer-typed variable names to the set of abstract locations
// they may point to. Locations are allocation sites numbered during analysis
// construction, plus ExternalLocation.
type PtsMap map[string]mapset.Set[int]

// Clone deep-copies the map.
func (m PtsMap) Clone() PtsMap {
	out := make(PtsMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Alias is the forward may-point-to analysis. Every alloc introduces a fresh
// location; id and ptradd preserve their operand's locations; a pointer
// obtained from load or call may point anywhere.
type Alias struct {
	sites map[*bril.Op]int
	all   mapset.Set[int]
}

// NewAlias numbers the allocation sites of the graph's function and returns
// the analysis instance.
func NewAlias(g *cfg.Graph) *Alias {
	a := &Alias{
		sites: make(map[*bril.Op]int),
		all:   mapset.NewThreadUnsafeSet(ExternalLocation),
	}
	next := ExternalLocation + 1
	for _, b := range g.Blocks {
		for _, instr := range b.Instrs {
			if op, ok := instr.(*bril.Op); ok && op.Opcode == bril.OpAlloc {
				a.sites[op] = next
				a.all.Add(next)
				next++
			}
		}
	}
	return a
}

func (a *Alias) Name() string { return "alias" }

func (a *Alias) Direction() Direction { return Forward }

// Boundary: pointer-typed parameters may point to any location.
func (a *Alias) Boundary(g *cfg.Graph) PtsMap {
	m := PtsMap{}
	for _, arg := range g.Fn.Args {
		if arg.Type.IsPtr() {
			m[arg.Name] = a.all.Clone()
		}
	}
	return m
}

func (a *Alias) Init(g *cfg.Graph) PtsMap { return PtsMap{} }

func (a *Alias) Transfer(g *cfg.Graph, id int, in PtsMap) PtsMap {
	m := in.Clone()
	for _, instr := range g.Blocks[id].Instrs {
		a.Update(m, instr)
	}
	return m
}

// Update applies one instruction's effect to the map in place. The dead-store
// pass replays blocks with it, so the step semantics live in one place.
func (a *Alias) Update(m PtsMap, instr bril.Instruction) {
	switch instr := instr.(type) {
	case *bril.Const:
		delete(m, instr.Dest)
	case *bril.Op:
		if instr.Dest == "" {
			return
		}
		switch instr.Opcode {
		case bril.OpAlloc:
			m[instr.Dest] = mapset.NewThreadUnsafeSet(a.sites[instr])
		case bril.OpID, bril.OpPtrAdd:
			if pts, ok := m[instr.Args[0]]; ok {
				m[instr.Dest] = pts.Clone()
			} else if instr.Type.IsPtr() {
				m[instr.Dest] = a.all.Clone()
			} else {
				delete(m, instr.Dest)
			}
		case bril.OpPhi:
			if !instr.Type.IsPtr() {
				delete(m, instr.Dest)
				return
			}
			pts := mapset.NewThreadUnsafeSet[int]()
			for _, arg := range instr.Args {
				src, ok := m[arg]
				if !ok {
					// Some incoming path carries an unknown pointer.
					pts = a.all.Clone()
					break
				}
				pts = pts.Union(src)
			}
			m[instr.Dest] = pts
		case bril.OpLoad, bril.OpCall:
			if instr.Type.IsPtr() {
				m[instr.Dest] = a.all.Clone()
			} else {
				delete(m, instr.Dest)
			}
		default:
			delete(m, instr.Dest)
		}
	}
}

// Meet unions the maps pointwise.
func (a *Alias) Meet(values []PtsMap) PtsMap {
	out := PtsMap{}
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

func (a *Alias) Equal(x, y PtsMap) bool {
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
