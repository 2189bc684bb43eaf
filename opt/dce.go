package opt

import (
	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/dataflow"
	"github.com/brilang/go-bril/metrics"
)

var deadInstrCounter = metrics.NewRegisteredCounter("opt/dce/instrs", nil)

// DeadCode deletes pure instructions whose destination is dead. Each sweep
// solves liveness, then walks every block backward from its live-out set,
// dropping definitions nothing reads; deleting a definition can kill the
// instructions feeding it, so sweeps repeat until one removes nothing.
func DeadCode(fn *bril.Function) (bool, error) {
	changed := false
	for {
		g, err := cfg.Build(fn)
		if err != nil {
			return changed, err
		}
		res, err := dataflow.Solve[dataflow.VarSet](g, dataflow.Liveness{})
		if err != nil {
			return changed, err
		}

		removed := false
		for id, b := range g.Blocks {
			live := res.Out[id].Clone()
			var dead []int // descending instruction indexes
			for i := len(b.Instrs) - 1; i >= 0; i-- {
				switch instr := b.Instrs[i].(type) {
				case *bril.Const:
					if !live.Contains(instr.Dest) {
						dead = append(dead, i)
						continue
					}
					live.Remove(instr.Dest)
				case *bril.Op:
					if instr.Dest != "" {
						if !live.Contains(instr.Dest) && instr.Opcode.IsPure() {
							dead = append(dead, i)
							continue
						}
						live.Remove(instr.Dest)
					}
					for _, a := range instr.Args {
						if a != bril.Undefined {
							live.Add(a)
						}
					}
				}
			}
			for _, i := range dead {
				b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
			}
			if len(dead) > 0 {
				deadInstrCounter.Inc(int64(len(dead)))
				removed = true
			}
		}
		if !removed {
			return changed, nil
		}
		changed = true
		g.FlattenInto(fn)
	}
}
