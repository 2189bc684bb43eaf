package bril

// FoldOp evaluates a pure operation over literal operands. It returns false
// when the opcode is not foldable, the operand shapes are wrong, or the
// result is not defined (division by zero); callers leave such instructions
// alone.
func FoldOp(op Opcode, args []Literal) (Literal, bool) {
	bin := func() (int64, int64, bool) {
		if len(args) != 2 || args[0].Kind != LitInt || args[1].Kind != LitInt {
			return 0, 0, false
		}
		return args[0].Int, args[1].Int, true
	}
	logic := func() (bool, bool, bool) {
		if len(args) != 2 || args[0].Kind != LitBool || args[1].Kind != LitBool {
			return false, false, false
		}
		return args[0].Bool, args[1].Bool, true
	}

	switch op {
	case OpAdd:
		if a, b, ok := bin(); ok {
			return IntLit(a + b), true
		}
	case OpSub:
		if a, b, ok := bin(); ok {
			return IntLit(a - b), true
		}
	case OpMul:
		if a, b, ok := bin(); ok {
			return IntLit(a * b), true
		}
	case OpDiv:
		if a, b, ok := bin(); ok && b != 0 {
			return IntLit(a / b), true
		}
	case OpEq:
		if a, b, ok := bin(); ok {
			return BoolLit(a == b), true
		}
	case OpLt:
		if a, b, ok := bin(); ok {
			return BoolLit(a < b), true
		}
	case OpGt:
		if a, b, ok := bin(); ok {
			return BoolLit(a > b), true
		}
	case OpLe:
		if a, b, ok := bin(); ok {
			return BoolLit(a <= b), true
		}
	case OpGe:
		if a, b, ok := bin(); ok {
			return BoolLit(a >= b), true
		}
	case OpNot:
		if len(args) == 1 && args[0].Kind == LitBool {
			return BoolLit(!args[0].Bool), true
		}
	case OpAnd:
		if a, b, ok := logic(); ok {
			return BoolLit(a && b), true
		}
	case OpOr:
		if a, b, ok := logic(); ok {
			return BoolLit(a || b), true
		}
	case OpID:
		if len(args) == 1 {
			return args[0], true
		}
	}
	return Literal{}, false
}
