package bril

// Opcode identifies a Bril operation. Constant definitions and labels are
// separate Instruction variants and have no opcode.
type Opcode uint8

const (
	OpUnknown Opcode = iota

	// Arithmetic (64-bit signed, wrapping).
	OpAdd // dest = args[0] + args[1]
	OpSub // dest = args[0] - args[1]
	OpMul // dest = args[0] * args[1]
	OpDiv // dest = args[0] / args[1], truncated

	// Comparison.
	OpEq // dest = args[0] == args[1]
	OpLt // dest = args[0] < args[1]
	OpGt // dest = args[0] > args[1]
	OpLe // dest = args[0] <= args[1]
	OpGe // dest = args[0] >= args[1]

	// Logic.
	OpNot // dest = !args[0]
	OpAnd // dest = args[0] && args[1]
	OpOr  // dest = args[0] || args[1]

	// Misc.
	OpID    // dest = args[0]
	OpPhi   // SSA join, args parallel to labels
	OpNop   // no effect
	OpPrint // write args to standard output
	OpCall  // invoke funcs[0] with args

	// Control.
	OpJmp // unconditional transfer to labels[0]
	OpBr  // transfer to labels[0] if args[0] else labels[1]
	OpRet // return args[0] if present

	// Memory extension.
	OpAlloc  // dest = fresh allocation of args[0] cells
	OpFree   // release allocation args[0]
	OpStore  // *args[0] = args[1]
	OpLoad   // dest = *args[0]
	OpPtrAdd // dest = args[0] offset by args[1] cells

	// Speculative execution extension.
	OpSpeculate // enter speculation
	OpCommit    // commit speculative state
	OpGuard     // abort speculation to labels[0] unless args[0]

	opMax
)

var opcodeNames = [opMax]string{
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpEq:        "eq",
	OpLt:        "lt",
	OpGt:        "gt",
	OpLe:        "le",
	OpGe:        "ge",
	OpNot:       "not",
	OpAnd:       "and",
	OpOr:        "or",
	OpID:        "id",
	OpPhi:       "phi",
	OpNop:       "nop",
	OpPrint:     "print",
	OpCall:      "call",
	OpJmp:       "jmp",
	OpBr:        "br",
	OpRet:       "ret",
	OpAlloc:     "alloc",
	OpFree:      "free",
	OpStore:     "store",
	OpLoad:      "load",
	OpPtrAdd:    "ptradd",
	OpSpeculate: "speculate",
	OpCommit:    "commit",
	OpGuard:     "guard",
}

var opcodeByName = make(map[string]Opcode, opMax)

func init() {
	for op, name := range opcodeNames {
		if name != "" {
			opcodeByName[name] = Opcode(op)
		}
	}
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return "unknown"
}

// ParseOpcode maps a wire-form operation name to its opcode.
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// IsTerminator reports whether the operation ends a basic block.
func (op Opcode) IsTerminator() bool {
	return op == OpJmp || op == OpBr || op == OpRet
}

// HasSideEffects reports whether the operation belongs to the effectful
// subset: its execution is observable beyond its destination, so it must
// never be hoisted, sunk or deleted. alloc counts because moving one changes
// allocation multiplicity; load counts because it can trap on a dead pointer.
func (op Opcode) HasSideEffects() bool {
	switch op {
	case OpPrint, OpCall, OpStore, OpLoad, OpFree, OpAlloc, OpSpeculate, OpCommit, OpGuard:
		return true
	}
	return false
}

// IsPure reports whether the operation computes a value from its operands
// with no observable effect. Pure, non-terminator operations are the ones
// dead-code elimination may drop and LICM may hoist.
func (op Opcode) IsPure() bool {
	return !op.HasSideEffects() && !op.IsTerminator() && op != OpUnknown
}
