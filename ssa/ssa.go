// Package ssa converts functions into and out of static single assignment
// form: minimal phi placement over dominance frontiers, dominator-tree
// renaming with per-variable version stacks, and the reverse transformation
// replacing phis with copies.
package ssa

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/dom"
	"github.com/brilang/go-bril/metrics"
)

// ErrAlreadySSA is returned when the input already contains phi instructions.
var ErrAlreadySSA = errors.New("function already contains phi instructions")

var phiCounter = metrics.NewRegisteredCounter("ssa/phis", nil)

// Convert rewrites the graph into SSA form in place. Unreachable blocks are
// pruned first so the single-definition property holds for the whole graph;
// dominance is computed on the pruned graph.
//
// Uses with no dominating definition on some path are renamed to the
// bril.Undefined sentinel rather than failing: the program may still be
// well-defined at runtime if those paths never execute.
func Convert(g *cfg.Graph) error {
	for _, b := range g.Blocks {
		if len(b.Phis()) > 0 {
			return fmt.Errorf("%w: @%s block .%s", ErrAlreadySSA, g.Fn.Name, b.Name)
		}
	}
	g.PruneUnreachable()
	info := dom.Compute(g)

	vars, types, defBlocks := collectDefs(g)
	placePhis(g, info, vars, types, defBlocks)
	rename(g, info)
	return nil
}

// collectDefs gathers every variable, its type, and the blocks defining it.
// Function parameters count as definitions in the entry block.
func collectDefs(g *cfg.Graph) (vars []string, types map[string]bril.Type, defBlocks map[string][]int) {
	types = make(map[string]bril.Type)
	defSets := make(map[string]map[int]bool)
	record := func(name string, t bril.Type, block int) {
		if name == "" {
			return
		}
		if _, ok := defSets[name]; !ok {
			defSets[name] = make(map[int]bool)
		}
		defSets[name][block] = true
		if t.Kind != bril.TypeNone {
			types[name] = t
		}
	}
	for _, arg := range g.Fn.Args {
		record(arg.Name, arg.Type, g.Entry().ID)
	}
	for _, b := range g.Blocks {
		for _, instr := range b.Instrs {
			switch instr := instr.(type) {
			case *bril.Const:
				record(instr.Dest, instr.Type, b.ID)
			case *bril.Op:
				record(instr.Dest, instr.Type, b.ID)
			}
		}
	}

	vars = make([]string, 0, len(defSets))
	defBlocks = make(map[string][]int, len(defSets))
	for name, set := range defSets {
		vars = append(vars, name)
		blocks := make([]int, 0, len(set))
		for id := range set {
			blocks = append(blocks, id)
		}
		slices.Sort(blocks)
		defBlocks[name] = blocks
	}
	slices.Sort(vars)
	return vars, types, defBlocks
}

// placePhis inserts minimal phis: for each variable, definition blocks seed a
// worklist, and every dominance-frontier block of a worklist entry receives a
// phi (once). A frontier block that was not already a definition site becomes
// one and joins the worklist. Phi arguments start as the unversioned name,
// one slot per predecessor, labeled with the predecessor names.
func placePhis(g *cfg.Graph, info *dom.Info, vars []string, types map[string]bril.Type, defBlocks map[string][]int) {
	for _, v := range vars {
		work := slices.Clone(defBlocks[v])
		isDef := make(map[int]bool, len(work))
		for _, id := range work {
			isDef[id] = true
		}
		hasPhi := make(map[int]bool)
		for len(work) > 0 {
			d := work[0]
			work = work[1:]
			for _, f := range info.Frontier(d) {
				if hasPhi[f] {
					continue
				}
				hasPhi[f] = true
				insertPhi(g, g.Blocks[f], v, types[v])
				if !isDef[f] {
					isDef[f] = true
					work = append(work, f)
				}
			}
		}
	}
}

func insertPhi(g *cfg.Graph, b *cfg.Block, v string, t bril.Type) {
	phi := &bril.Op{
		Opcode: bril.OpPhi,
		Dest:   v,
		Type:   t,
		Args:   make([]string, len(b.Preds)),
		Labels: make([]string, len(b.Preds)),
	}
	for i, p := range b.Preds {
		phi.Args[i] = v
		// Block names are final before any renaming happens.
		phi.Labels[i] = g.Blocks[p].Name
	}
	b.Instrs = append([]bril.Instruction{phi}, b.Instrs...)
	phiCounter.Inc(1)
}

// rename walks the dominator tree in preorder with an explicit frame stack.
// Each frame records how many names it pushed per variable so the walk can
// pop them when the frame retires; recursion depth never depends on the CFG.
func rename(g *cfg.Graph, info *dom.Info) {
	var (
		counters = make(map[string]int)
		stacks   = make(map[string][]string)
	)
	for _, arg := range g.Fn.Args {
		stacks[arg.Name] = []string{arg.Name}
	}
	top := func(v string) string {
		s := stacks[v]
		if len(s) == 0 {
			return bril.Undefined
		}
		return s[len(s)-1]
	}

	type frame struct {
		block  int
		child  int
		pushed map[string]int
	}
	push := func(fr *frame, v string) string {
		counters[v]++
		name := fmt.Sprintf("%s.%d", v, counters[v])
		stacks[v] = append(stacks[v], name)
		fr.pushed[v]++
		return name
	}

	stack := []*frame{{block: g.Entry().ID, pushed: make(map[string]int)}}
	visitBlock := func(fr *frame) {
		b := g.Blocks[fr.block]
		for _, instr := range b.Instrs {
			switch instr := instr.(type) {
			case *bril.Const:
				instr.Dest = push(fr, instr.Dest)
			case *bril.Op:
				if instr.Opcode != bril.OpPhi {
					for i, a := range instr.Args {
						instr.Args[i] = top(a)
					}
				}
				if instr.Dest != "" {
					instr.Dest = push(fr, instr.Dest)
				}
			}
		}
		for _, s := range b.Succs {
			for _, phi := range g.Blocks[s].Phis() {
				for i, l := range phi.Labels {
					if l == b.Name {
						// Slots hold the unversioned name until their
						// predecessor patches them, exactly once.
						phi.Args[i] = top(phi.Args[i])
					}
				}
			}
		}
	}

	visitBlock(stack[0])
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		children := info.Children(fr.block)
		if fr.child < len(children) {
			next := &frame{block: children[fr.child], pushed: make(map[string]int)}
			fr.child++
			stack = append(stack, next)
			visitBlock(next)
			continue
		}
		for v, n := range fr.pushed {
			stacks[v] = stacks[v][:len(stacks[v])-n]
		}
		stack = stack[:len(stack)-1]
	}
}

