package opt

import (
	"github.com/willf/bitset"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/dom"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/metrics"
)

var (
	hoistedCounter     = metrics.NewRegisteredCounter("opt/licm/hoisted", nil)
	skippedLoopCounter = metrics.NewRegisteredCounter("opt/licm/skipped", nil)
)

// Loop is the natural loop of one back edge: every block through which
// control can reach Back without passing through Header. Header dominates
// every block in the set.
type Loop struct {
	Header int
	Back   int
	Blocks *bitset.BitSet
}

// FindLoops returns one natural loop per back edge, in (header, source)
// order. An edge s->h is a back edge when h dominates s; edges from
// unreachable blocks carry no dominance information and are ignored.
func FindLoops(g *cfg.Graph, info *dom.Info) []Loop {
	var loops []Loop
	for _, b := range g.Blocks {
		for _, s := range b.Succs {
			if info.Reachable(b.ID) && info.Dominates(s, b.ID) {
				loops = append(loops, naturalLoop(g, s, b.ID))
			}
		}
	}
	return loops
}

// naturalLoop collects the loop body by walking predecessors backward from
// the back-edge source. The header is seeded into the set first so the walk
// never crosses it; a self loop therefore contributes only the header, never
// the header's outside predecessors.
func naturalLoop(g *cfg.Graph, header, back int) Loop {
	body := bitset.New(uint(g.Len()))
	body.Set(uint(header))
	if back != header {
		body.Set(uint(back))
		stack := []int{back}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, p := range g.Blocks[id].Preds {
				if !body.Test(uint(p)) {
					body.Set(uint(p))
					stack = append(stack, p)
				}
			}
		}
	}
	return Loop{Header: header, Back: back, Blocks: body}
}

// preheader returns the hoist target for l, or -1. A loop is hoistable only
// when the header has exactly one predecessor outside the loop and that
// predecessor's sole successor is the header; anything else would need edge
// surgery to fix up, which this pass never performs.
func preheader(g *cfg.Graph, l Loop) int {
	outside := -1
	for _, p := range g.Blocks[l.Header].Preds {
		if l.Blocks.Test(uint(p)) {
			continue
		}
		if outside != -1 {
			return -1
		}
		outside = p
	}
	if outside == -1 || len(g.Blocks[outside].Succs) != 1 {
		return -1
	}
	return outside
}

// LICM hoists loop-invariant pure instructions into loop preheaders. The
// rewrite expects SSA form: the invariance test treats an operand as fixed
// across iterations only when its sole definition sits outside the loop,
// which is exact under SSA and misses opportunities otherwise, never
// soundness.
func LICM(fn *bril.Function) (bool, error) {
	g, err := cfg.Build(fn)
	if err != nil {
		return false, err
	}
	info := dom.Compute(g)

	// Definition counts: per variable for the whole function, and per loop
	// body below. Parameters count as definitions so they are never treated
	// as single-definition hoist destinations.
	defs := make(map[string]int)
	for _, arg := range g.Fn.Args {
		defs[arg.Name]++
	}
	for _, b := range g.Blocks {
		for _, instr := range b.Instrs {
			if dest := bril.Dest(instr); dest != "" {
				defs[dest]++
			}
		}
	}

	changed := false
	for _, l := range FindLoops(g, info) {
		pre := preheader(g, l)
		if pre == -1 {
			skippedLoopCounter.Inc(1)
			log.Debug("Skipping loop without usable preheader",
				"func", fn.Name, "header", g.Blocks[l.Header].Name)
			continue
		}
		if hoistLoop(g, l, pre, defs) {
			changed = true
		}
	}
	if changed {
		g.FlattenInto(fn)
	}
	return changed, nil
}

// hoistLoop moves invariant instructions of one loop into its preheader,
// repeating full passes until none moves. Per pass an instruction qualifies
// when it is pure, not a phi, uniquely defined, and every operand's
// definitions all sit outside the loop; hoisting an instruction moves its
// definition outside, which is what unblocks its dependents on the next pass,
// and also what keeps the preheader's copy order consistent with evaluation
// order.
func hoistLoop(g *cfg.Graph, l Loop, pre int, defs map[string]int) bool {
	inLoop := make(map[string]int)
	for id, ok := l.Blocks.NextSet(0); ok; id, ok = l.Blocks.NextSet(id + 1) {
		for _, instr := range g.Blocks[id].Instrs {
			if dest := bril.Dest(instr); dest != "" {
				inLoop[dest]++
			}
		}
	}

	hoisted := false
	for {
		moved := 0
		for id, ok := l.Blocks.NextSet(0); ok; id, ok = l.Blocks.NextSet(id + 1) {
			b := g.Blocks[id]
			kept := b.Instrs[:0]
			for _, instr := range b.Instrs {
				if invariant(instr, defs, inLoop) {
					insertBeforeTerminator(g.Blocks[pre], instr)
					inLoop[bril.Dest(instr)]--
					moved++
					continue
				}
				kept = append(kept, instr)
			}
			b.Instrs = kept
		}
		if moved == 0 {
			return hoisted
		}
		hoistedCounter.Inc(int64(moved))
		hoisted = true
	}
}

// invariant reports whether instr may move out of the loop right now.
func invariant(instr bril.Instruction, defs, inLoop map[string]int) bool {
	switch instr := instr.(type) {
	case *bril.Const:
		return defs[instr.Dest] == 1
	case *bril.Op:
		if instr.Opcode.HasSideEffects() || instr.Opcode.IsTerminator() ||
			instr.Opcode == bril.OpPhi || instr.Dest == "" {
			return false
		}
		if defs[instr.Dest] != 1 {
			return false
		}
		for _, a := range instr.Args {
			if inLoop[a] > 0 {
				return false
			}
		}
		return true
	}
	return false
}

// insertBeforeTerminator appends instr to b, keeping an existing terminator
// last.
func insertBeforeTerminator(b *cfg.Block, instr bril.Instruction) {
	if b.Terminator() != nil {
		last := len(b.Instrs) - 1
		b.Instrs = append(b.Instrs[:last:last], instr, b.Instrs[last])
		return
	}
	b.Instrs = append(b.Instrs, instr)
}
