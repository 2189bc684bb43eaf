// Package cfg segments Bril functions into basic blocks and builds the
// control-flow graph the analyses and transforms operate on. Blocks live in
// an arena indexed by small integer ids; all cross-references (successor and
// predecessor lists, dominator structures, loop bodies) use ids, never
// pointers.
package cfg

import (
	"fmt"

	"github.com/brilang/go-bril/bril"
)

// Block is one basic block. Instrs never contains label instructions; the
// block's label, original or generated, lives in Name.
type Block struct {
	ID        int
	Name      string
	Generated bool // Name was invented by the builder, not present in the source
	Instrs    []bril.Instruction
	Succs     []int
	Preds     []int
}

// Terminator returns the block's final instruction if it is a jmp, br or ret,
// and nil otherwise (fallthrough block).
func (b *Block) Terminator() *bril.Op {
	if len(b.Instrs) == 0 {
		return nil
	}
	if op, ok := b.Instrs[len(b.Instrs)-1].(*bril.Op); ok && op.Opcode.IsTerminator() {
		return op
	}
	return nil
}

// Phis returns the block's phi instructions.
func (b *Block) Phis() []*bril.Op {
	var phis []*bril.Op
	for _, in := range b.Instrs {
		if op, ok := in.(*bril.Op); ok && op.Opcode == bril.OpPhi {
			phis = append(phis, op)
		}
	}
	return phis
}

// FormBlocks segments a function body into basic blocks:
//
//   - a label closes the current block (if non-empty) and starts a new one
//     named by it;
//   - a terminator ends the current block, staying its last instruction;
//   - a trailing unterminated run is flushed as the final block.
//
// Blocks for unlabeled runs have an empty Name at this stage; Build assigns
// generated names so every block is addressable. Ids, successors and
// predecessors are not filled in here.
func FormBlocks(fn *bril.Function) []*Block {
	var (
		blocks []*Block
		cur    = &Block{}
	)
	flush := func() {
		if cur.Name != "" || len(cur.Instrs) > 0 {
			blocks = append(blocks, cur)
		}
		cur = &Block{}
	}
	for _, in := range fn.Instrs {
		switch in := in.(type) {
		case *bril.Label:
			flush()
			cur.Name = in.Name
		case *bril.Op:
			cur.Instrs = append(cur.Instrs, in)
			if in.Opcode.IsTerminator() {
				flush()
			}
		default:
			cur.Instrs = append(cur.Instrs, in)
		}
	}
	flush()
	return blocks
}

// freshName returns base if unused, otherwise base with a numeric suffix.
func freshName(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if !taken[name] {
			return name
		}
	}
}
