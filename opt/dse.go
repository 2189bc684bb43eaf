package opt

import (
	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/dataflow"
	"github.com/brilang/go-bril/metrics"
)

var deadStoreCounter = metrics.NewRegisteredCounter("opt/dse/stores", nil)

// DeadStores deletes stores overwritten before any possible read. The sweep is
// block-local: pending stores are tracked while replaying a block and
// discarded at its end, so no store is ever deleted based on cross-block
// reasoning.
//
// Pending stores are keyed by pointer variable, not abstract location. A
// location stands for a whole allocation site and two stores to the same site
// may hit different cells, while two stores through the same variable, with no
// redefinition in between, hit exactly the same cell. The points-to sets
// refine the other side: a load clears only the pending stores whose pointer
// may alias the loaded one. Calls, frees and speculation markers clear
// everything.
func DeadStores(fn *bril.Function) (bool, error) {
	g, err := cfg.Build(fn)
	if err != nil {
		return false, err
	}
	alias := dataflow.NewAlias(g)
	res, err := dataflow.Solve[dataflow.PtsMap](g, alias)
	if err != nil {
		return false, err
	}

	changed := false
	for id, b := range g.Blocks {
		m := res.In[id].Clone()
		pending := make(map[string]int) // pointer variable -> index of its last unread store
		var dead []int
		for i, instr := range b.Instrs {
			if op, ok := instr.(*bril.Op); ok {
				switch op.Opcode {
				case bril.OpStore:
					ptr := op.Args[0]
					if prev, ok := pending[ptr]; ok {
						dead = append(dead, prev)
					}
					pending[ptr] = i
				case bril.OpLoad:
					pts, known := m[op.Args[0]]
					for ptr := range pending {
						if !known {
							delete(pending, ptr)
							continue
						}
						if other, ok := m[ptr]; !ok || other.Intersect(pts).Cardinality() > 0 {
							delete(pending, ptr)
						}
					}
				case bril.OpCall, bril.OpFree, bril.OpSpeculate, bril.OpCommit, bril.OpGuard:
					clear(pending)
				}
			}
			// Redefining a pointer variable orphans its pending store: the
			// variable no longer names the stored-to cell.
			if dest := bril.Dest(instr); dest != "" {
				delete(pending, dest)
			}
			alias.Update(m, instr)
		}
		if len(dead) == 0 {
			continue
		}
		isDead := make(map[int]bool, len(dead))
		for _, idx := range dead {
			isDead[idx] = true
		}
		kept := b.Instrs[:0]
		for idx, instr := range b.Instrs {
			if !isDead[idx] {
				kept = append(kept, instr)
			}
		}
		b.Instrs = kept
		deadStoreCounter.Inc(int64(len(dead)))
		changed = true
	}
	if changed {
		g.FlattenInto(fn)
	}
	return changed, nil
}
