package cfg

import (
	"errors"
	"fmt"

	"github.com/brilang/go-bril/bril"
)

// ErrUnknownLabel is returned when a control instruction references a label
// with no corresponding block. It is fatal for the function being processed.
var ErrUnknownLabel = errors.New("branch target does not exist")

// Graph is the control-flow graph of one function. Blocks[0] is the entry and
// has no predecessors; block ids are dense indices into Blocks.
type Graph struct {
	Fn     *bril.Function
	Blocks []*Block

	byName map[string]int
}

// Build segments fn into blocks and wires the graph:
//
//   - br adds an edge per target label, jmp one, ret none;
//   - a block without terminator falls through to the next block in order
//     (no edge when it is the last);
//   - if the first block's label is itself a jump target, a fresh unlabeled
//     entry block holding a single jmp to it is prepended, so the entry never
//     has predecessors;
//   - every block receives a name (generated for unlabeled runs) so phi
//     instructions can refer to any predecessor.
//
// Unknown target labels yield an error wrapping ErrUnknownLabel.
func Build(fn *bril.Function) (*Graph, error) {
	blocks := FormBlocks(fn)
	if len(blocks) == 0 {
		blocks = []*Block{{}}
	}

	taken := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		if b.Name != "" {
			taken[b.Name] = true
		}
	}
	targets := make(map[string]bool)
	for _, in := range fn.Instrs {
		op, ok := in.(*bril.Op)
		if !ok || op.Opcode == bril.OpPhi {
			continue
		}
		for _, l := range op.Labels {
			targets[l] = true
		}
	}

	if blocks[0].Name != "" && targets[blocks[0].Name] {
		entry := &Block{
			Generated: true,
			Instrs:    []bril.Instruction{&bril.Op{Opcode: bril.OpJmp, Labels: []string{blocks[0].Name}}},
		}
		blocks = append([]*Block{entry}, blocks...)
	}

	g := &Graph{Fn: fn, Blocks: blocks, byName: make(map[string]int, len(blocks))}
	for i, b := range blocks {
		b.ID = i
		b.Succs = nil
		b.Preds = nil
		if b.Name == "" {
			b.Name = freshName(fmt.Sprintf("b%d", i), taken)
			taken[b.Name] = true
			b.Generated = true
		}
		g.byName[b.Name] = i
	}

	for i, b := range blocks {
		term := b.Terminator()
		if term == nil {
			if i+1 < len(blocks) {
				g.addEdge(i, i+1)
			}
			continue
		}
		switch term.Opcode {
		case bril.OpJmp, bril.OpBr:
			seen := make(map[int]bool, 2)
			for _, l := range term.Labels {
				to, ok := g.byName[l]
				if !ok {
					return nil, fmt.Errorf("%w: .%s in @%s", ErrUnknownLabel, l, fn.Name)
				}
				// A br with both labels equal contributes one edge;
				// duplicate edges would break predecessor indexing.
				if !seen[to] {
					g.addEdge(i, to)
					seen[to] = true
				}
			}
		case bril.OpRet:
		}
	}
	return g, nil
}

func (g *Graph) addEdge(from, to int) {
	g.Blocks[from].Succs = append(g.Blocks[from].Succs, to)
	g.Blocks[to].Preds = append(g.Blocks[to].Preds, from)
}

// Len returns the number of blocks.
func (g *Graph) Len() int { return len(g.Blocks) }

// Entry returns the entry block.
func (g *Graph) Entry() *Block { return g.Blocks[0] }

// BlockByName resolves a label to its block.
func (g *Graph) BlockByName(name string) (*Block, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.Blocks[id], true
}

// Flatten reconstitutes the linear instruction list. Block order is
// preserved, so fallthrough adjacency survives. Labels are emitted for blocks
// that carried one in the source and for generated names some instruction
// refers to.
func (g *Graph) Flatten() []bril.Instruction {
	referenced := make(map[string]bool)
	for _, b := range g.Blocks {
		for _, in := range b.Instrs {
			if op, ok := in.(*bril.Op); ok {
				for _, l := range op.Labels {
					referenced[l] = true
				}
			}
		}
	}
	var out []bril.Instruction
	for _, b := range g.Blocks {
		if !b.Generated || referenced[b.Name] {
			out = append(out, &bril.Label{Name: b.Name})
		}
		out = append(out, b.Instrs...)
	}
	return out
}

// FlattenInto replaces fn's body with the graph's flattened instructions.
func (g *Graph) FlattenInto(fn *bril.Function) {
	fn.Instrs = g.Flatten()
}

// FoldBranch rewrites the br terminating block id into a jmp to taken and
// drops the edge to the untaken target, fixing that block's predecessor list
// and phi argument slots.
func (g *Graph) FoldBranch(id int, taken string) error {
	b := g.Blocks[id]
	term := b.Terminator()
	if term == nil || term.Opcode != bril.OpBr {
		return fmt.Errorf("block .%s is not terminated by a br", b.Name)
	}
	if term.Labels[0] != taken && term.Labels[1] != taken {
		return fmt.Errorf("%w: .%s is not a target of the br in .%s", ErrUnknownLabel, taken, b.Name)
	}
	other := term.Labels[0]
	if other == taken {
		other = term.Labels[1]
	}
	b.Instrs[len(b.Instrs)-1] = &bril.Op{Opcode: bril.OpJmp, Labels: []string{taken}}
	if other != taken {
		g.RemoveEdge(id, g.byName[other])
	}
	return nil
}

// RemoveEdge deletes the from→to edge. Phi instructions in the target lose
// the argument slot naming the vanished predecessor, keeping arguments and
// labels parallel.
func (g *Graph) RemoveEdge(from, to int) {
	src, dst := g.Blocks[from], g.Blocks[to]
	for i, s := range src.Succs {
		if s == to {
			src.Succs = append(src.Succs[:i], src.Succs[i+1:]...)
			break
		}
	}
	for i, p := range dst.Preds {
		if p == from {
			dst.Preds = append(dst.Preds[:i], dst.Preds[i+1:]...)
			break
		}
	}
	dropPhiSlot(dst, src.Name)
}

func dropPhiSlot(b *Block, pred string) {
	for _, phi := range b.Phis() {
		for i, l := range phi.Labels {
			if l == pred {
				phi.Labels = append(phi.Labels[:i], phi.Labels[i+1:]...)
				phi.Args = append(phi.Args[:i], phi.Args[i+1:]...)
				break
			}
		}
	}
}

// PruneUnreachable removes blocks unreachable from the entry, renumbering the
// arena and patching edges and phi slots. Returns whether anything changed.
func (g *Graph) PruneUnreachable() bool {
	reachable := make([]bool, len(g.Blocks))
	stack := []int{0}
	reachable[0] = true
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range g.Blocks[id].Succs {
			if !reachable[s] {
				reachable[s] = true
				stack = append(stack, s)
			}
		}
	}

	changed := false
	for id := range g.Blocks {
		if !reachable[id] {
			changed = true
			break
		}
	}
	if !changed {
		return false
	}

	remap := make([]int, len(g.Blocks))
	var kept []*Block
	for id, b := range g.Blocks {
		if reachable[id] {
			remap[id] = len(kept)
			kept = append(kept, b)
		} else {
			remap[id] = -1
		}
	}
	for _, b := range kept {
		var succs, preds []int
		for _, s := range b.Succs {
			if reachable[s] {
				succs = append(succs, remap[s])
			}
		}
		for _, p := range b.Preds {
			if reachable[p] {
				preds = append(preds, remap[p])
			} else {
				dropPhiSlot(b, g.Blocks[p].Name)
			}
		}
		b.Succs, b.Preds = succs, preds
	}
	g.Blocks = kept
	g.byName = make(map[string]int, len(kept))
	for i, b := range kept {
		b.ID = i
		g.byName[b.Name] = i
	}
	return true
}
