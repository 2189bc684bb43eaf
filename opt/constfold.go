package opt

import (
	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/dataflow"
	"github.com/brilang/go-bril/metrics"
)

var (
	foldedInstrCounter  = metrics.NewRegisteredCounter("opt/constprop/instrs", nil)
	foldedBranchCounter = metrics.NewRegisteredCounter("opt/constprop/branches", nil)
)

// ConstProp folds constants through fn. It solves the constant-propagation
// analysis, then replays each block from its entry map: a pure operation whose
// operands are all known becomes a const of the folded value, and a br on a
// known condition becomes a jmp, after which unreachable blocks are pruned.
// The replay applies every instruction to its local copy of the map so
// rewrites later in a block see the effect of earlier ones.
func ConstProp(fn *bril.Function) (bool, error) {
	g, err := cfg.Build(fn)
	if err != nil {
		return false, err
	}
	res, err := dataflow.Solve[dataflow.ConstMap](g, dataflow.Constants{})
	if err != nil {
		return false, err
	}

	changed := false
	for id, b := range g.Blocks {
		m := res.In[id].Clone()
		for i, instr := range b.Instrs {
			switch instr := instr.(type) {
			case *bril.Const:
				m[instr.Dest] = instr.Value
			case *bril.Op:
				if instr.Dest == "" {
					continue
				}
				val, ok := m.Fold(instr)
				if !ok {
					delete(m, instr.Dest)
					continue
				}
				m[instr.Dest] = val
				b.Instrs[i] = &bril.Const{Dest: instr.Dest, Type: instr.Type, Value: val}
				foldedInstrCounter.Inc(1)
				changed = true
			}
		}
		term := b.Terminator()
		if term == nil || term.Opcode != bril.OpBr {
			continue
		}
		cond, ok := m[term.Args[0]]
		if !ok || cond.Kind != bril.LitBool {
			continue
		}
		taken := term.Labels[0]
		if !cond.Bool {
			taken = term.Labels[1]
		}
		if err := g.FoldBranch(id, taken); err != nil {
			return changed, err
		}
		foldedBranchCounter.Inc(1)
		changed = true
	}
	if g.PruneUnreachable() {
		changed = true
	}
	if changed {
		g.FlattenInto(fn)
	}
	return changed, nil
}
