package ssa

import (
	"fmt"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/dom"
)

type defSite struct {
	block int
	index int
}

// Check verifies the SSA invariants on a converted graph: every variable has
// exactly one definition, every non-sentinel use is dominated by its
// definition, and every phi slot names a real predecessor whose end the
// slot value's definition dominates.
func Check(g *cfg.Graph) error {
	info := dom.Compute(g)

	defs := make(map[string]defSite)
	for _, arg := range g.Fn.Args {
		defs[arg.Name] = defSite{block: -1}
	}
	for _, b := range g.Blocks {
		for idx, instr := range b.Instrs {
			dest := bril.Dest(instr)
			if dest == "" {
				continue
			}
			if prev, ok := defs[dest]; ok {
				return fmt.Errorf("@%s: %q defined twice (block %d and block .%s)",
					g.Fn.Name, dest, prev.block, b.Name)
			}
			defs[dest] = defSite{block: b.ID, index: idx}
		}
	}

	// -1 marks function parameters, which dominate everything.
	dominatesUse := func(d defSite, block, index int) bool {
		if d.block == -1 {
			return true
		}
		if d.block == block {
			return d.index < index
		}
		return info.StrictlyDominates(d.block, block)
	}

	for _, b := range g.Blocks {
		predNames := make(map[string]int, len(b.Preds))
		for _, p := range b.Preds {
			predNames[g.Blocks[p].Name] = p
		}
		for idx, instr := range b.Instrs {
			op, ok := instr.(*bril.Op)
			if !ok {
				continue
			}
			if op.Opcode == bril.OpPhi {
				for i, label := range op.Labels {
					pred, ok := predNames[label]
					if !ok {
						return fmt.Errorf("%w: @%s block .%s phi %s names .%s",
							ErrBadPhi, g.Fn.Name, b.Name, op.Dest, label)
					}
					arg := op.Args[i]
					if arg == bril.Undefined {
						continue
					}
					d, ok := defs[arg]
					if !ok {
						return fmt.Errorf("@%s: phi %s reads undefined %q", g.Fn.Name, op.Dest, arg)
					}
					// The value must be available at the end of the edge's
					// source block.
					if d.block != -1 && d.block != pred && !info.StrictlyDominates(d.block, pred) {
						return fmt.Errorf("@%s: phi %s slot .%s not dominated by def of %q",
							g.Fn.Name, op.Dest, label, arg)
					}
				}
				continue
			}
			for _, arg := range op.Args {
				if arg == bril.Undefined {
					continue
				}
				d, ok := defs[arg]
				if !ok {
					return fmt.Errorf("@%s: use of undefined %q in block .%s", g.Fn.Name, arg, b.Name)
				}
				if !dominatesUse(d, b.ID, idx) {
					return fmt.Errorf("@%s: use of %q in block .%s not dominated by its definition",
						g.Fn.Name, arg, b.Name)
				}
			}
		}
	}
	return nil
}
