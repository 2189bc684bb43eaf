package ssa

import (
	"errors"
	"fmt"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
)

// ErrBadPhi is returned when a phi instruction names a label that is not one
// of its block's predecessors. This is fatal for the function.
var ErrBadPhi = errors.New("phi references a non-predecessor")

// Deconstruct removes phi instructions by materializing a copy at the end of
// each predecessor (before its terminator): for a phi `d = phi a .l b .m`,
// block l gets `d = id a` and block m gets `d = id b`. Undefined slots get no
// copy; the value never flows on that edge. Copies are inserted naively, in
// phi order, which matches the reference semantics of minimal SSA produced by
// Convert.
func Deconstruct(g *cfg.Graph) error {
	type copyIn struct {
		block int
		op    *bril.Op
	}
	var copies []copyIn

	for _, b := range g.Blocks {
		phis := b.Phis()
		if len(phis) == 0 {
			continue
		}
		predNames := make(map[string]int, len(b.Preds))
		for _, p := range b.Preds {
			predNames[g.Blocks[p].Name] = p
		}
		for _, phi := range phis {
			for i, label := range phi.Labels {
				pred, ok := predNames[label]
				if !ok {
					return fmt.Errorf("%w: @%s block .%s phi %s names .%s",
						ErrBadPhi, g.Fn.Name, b.Name, phi.Dest, label)
				}
				if phi.Args[i] == bril.Undefined {
					continue
				}
				copies = append(copies, copyIn{
					block: pred,
					op: &bril.Op{
						Opcode: bril.OpID,
						Dest:   phi.Dest,
						Type:   phi.Type,
						Args:   []string{phi.Args[i]},
					},
				})
			}
		}

		kept := b.Instrs[:0]
		for _, instr := range b.Instrs {
			if op, ok := instr.(*bril.Op); ok && op.Opcode == bril.OpPhi {
				continue
			}
			kept = append(kept, instr)
		}
		b.Instrs = kept
	}

	for _, c := range copies {
		b := g.Blocks[c.block]
		if b.Terminator() != nil {
			last := len(b.Instrs) - 1
			b.Instrs = append(b.Instrs[:last:last], c.op, b.Instrs[last])
		} else {
			b.Instrs = append(b.Instrs, c.op)
		}
	}
	return nil
}
