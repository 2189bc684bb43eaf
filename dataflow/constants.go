package dataflow

import (
	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
)

// ConstMap maps variable names to literal values known to hold on every path.
// Absence means "not known constant".
type ConstMap map[string]bril.Literal

// Clone returns a copy of the map.
func (m ConstMap) Clone() ConstMap {
	out := make(ConstMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Constants is the forward constant-propagation analysis: the meet keeps only
// bindings every incoming path agrees on, and the transfer function folds
// constant definitions and pure operations over known operands.
type Constants struct{}

func (Constants) Name() string { return "constants" }

func (Constants) Direction() Direction { return Forward }

// Boundary: nothing is known on function entry; parameters are runtime
// values.
func (Constants) Boundary(g *cfg.Graph) ConstMap { return ConstMap{} }

func (Constants) Init(g *cfg.Graph) ConstMap { return ConstMap{} }

func (Constants) Transfer(g *cfg.Graph, id int, in ConstMap) ConstMap {
	m := in.Clone()
	for _, instr := range g.Blocks[id].Instrs {
		switch instr := instr.(type) {
		case *bril.Const:
			m[instr.Dest] = instr.Value
		case *bril.Op:
			if instr.Dest == "" {
				continue
			}
			if val, ok := m.Fold(instr); ok {
				m[instr.Dest] = val
			} else {
				delete(m, instr.Dest)
			}
		}
	}
	return m
}

// Fold evaluates a pure operation whose operands are all bound in m. Phis and
// effectful opcodes never fold.
func (m ConstMap) Fold(op *bril.Op) (bril.Literal, bool) {
	if !op.Opcode.IsPure() || op.Opcode == bril.OpPhi {
		return bril.Literal{}, false
	}
	args := make([]bril.Literal, len(op.Args))
	for i, a := range op.Args {
		v, ok := m[a]
		if !ok {
			return bril.Literal{}, false
		}
		args[i] = v
	}
	return bril.FoldOp(op.Opcode, args)
}

// Meet intersects the incoming maps, keeping bindings with agreeing values.
// The empty slice yields the empty map (only unreachable blocks see it).
func (Constants) Meet(values []ConstMap) ConstMap {
	if len(values) == 0 {
		return ConstMap{}
	}
	out := values[0].Clone()
	for _, m := range values[1:] {
		for k, v := range out {
			if other, ok := m[k]; !ok || !other.Equal(v) {
				delete(out, k)
			}
		}
	}
	return out
}

func (Constants) Equal(a, b ConstMap) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if other, ok := b[k]; !ok || !other.Equal(v) {
			return false
		}
	}
	return true
}
