// Package interp is a direct evaluator for Bril programs. The optimizer's
// tests use it as the reference semantics: a rewritten function must print
// and return exactly what the original did.
package interp

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/brilang/go-bril/bril"
)

// DefaultMaxSteps bounds executed instructions across all frames. Large
// enough for any realistic test program, small enough that an accidental
// infinite loop fails fast.
const DefaultMaxSteps = 1 << 22

const maxCallDepth = 1024

var (
	ErrUnknownFunction = errors.New("call of unknown function")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrUndefinedValue  = errors.New("use of undefined value")
	ErrOutOfBounds     = errors.New("memory access out of bounds")
	ErrUseAfterFree    = errors.New("use of freed memory")
	ErrDoubleFree      = errors.New("double free")
	ErrUnsupportedOp   = errors.New("unsupported operation")
	ErrStepBudget      = errors.New("step budget exhausted")
	ErrCallDepth       = errors.New("call depth limit exceeded")
)

type valueKind uint8

const (
	valUninit valueKind = iota // zero value, reading one is an error
	valInt
	valBool
	valPtr
)

// value is a runtime value. kind selects which field is meaningful.
type value struct {
	kind valueKind
	i    int64
	b    bool
	p    pointer
}

// pointer addresses a cell within a heap allocation.
type pointer struct {
	alloc  int64
	offset int64
}

type allocation struct {
	cells []value
	freed bool
}

func (v value) String() string {
	switch v.kind {
	case valBool:
		return strconv.FormatBool(v.b)
	case valPtr:
		return fmt.Sprintf("<ptr %d+%d>", v.p.alloc, v.p.offset)
	default:
		return strconv.FormatInt(v.i, 10)
	}
}

func (v value) literal() (bril.Literal, bool) {
	switch v.kind {
	case valInt:
		return bril.IntLit(v.i), true
	case valBool:
		return bril.BoolLit(v.b), true
	}
	return bril.Literal{}, false
}

func fromLiteral(l bril.Literal) value {
	if l.Kind == bril.LitBool {
		return value{kind: valBool, b: l.Bool}
	}
	return value{kind: valInt, i: l.Int}
}

// Interpreter executes functions of a single program against a shared heap.
type Interpreter struct {
	prog *bril.Program
	out  io.Writer

	// MaxSteps bounds the total number of executed instructions across all
	// call frames. The zero value means DefaultMaxSteps.
	MaxSteps int

	heap      map[int64]*allocation
	nextAlloc int64
	steps     int
}

// New returns an interpreter for p that writes print output to out. A nil
// out discards output.
func New(p *bril.Program, out io.Writer) *Interpreter {
	if out == nil {
		out = io.Discard
	}
	return &Interpreter{
		prog:      p,
		out:       out,
		MaxSteps:  DefaultMaxSteps,
		heap:      make(map[int64]*allocation),
		nextAlloc: 1,
	}
}

// Run executes function fnName of p with the given arguments, writing print
// output to out. The result is the function's return value, nil for a void
// return.
func Run(p *bril.Program, fnName string, args []bril.Literal, out io.Writer) (*bril.Literal, error) {
	return New(p, out).Run(fnName, args)
}

// Run executes the named function with the given arguments.
func (in *Interpreter) Run(fnName string, args []bril.Literal) (*bril.Literal, error) {
	fn := in.prog.Function(fnName)
	if fn == nil {
		return nil, fmt.Errorf("%w: @%s", ErrUnknownFunction, fnName)
	}
	if len(args) != len(fn.Args) {
		return nil, fmt.Errorf("@%s wants %d arguments, got %d", fn.Name, len(fn.Args), len(args))
	}
	vals := make([]value, len(args))
	for i, l := range args {
		if t := fn.Args[i].Type; !l.Type().Equal(t) {
			return nil, fmt.Errorf("@%s argument %s wants type %s", fn.Name, fn.Args[i].Name, t)
		}
		vals[i] = fromLiteral(l)
	}
	ret, err := in.runFunction(fn, vals, 0)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, nil
	}
	lit, ok := ret.literal()
	if !ok {
		return nil, fmt.Errorf("@%s returned a pointer", fn.Name)
	}
	return &lit, nil
}

// Steps reports how many instructions have been executed so far.
func (in *Interpreter) Steps() int { return in.steps }

// Leaks returns the number of allocations that were never freed. Well-behaved
// programs using the memory extension free everything; tests assert zero.
func (in *Interpreter) Leaks() int {
	n := 0
	for _, a := range in.heap {
		if !a.freed {
			n++
		}
	}
	return n
}

func (in *Interpreter) runFunction(fn *bril.Function, args []value, depth int) (*value, error) {
	if depth >= maxCallDepth {
		return nil, ErrCallDepth
	}
	budget := in.MaxSteps
	if budget <= 0 {
		budget = DefaultMaxSteps
	}

	env := make(map[string]value, len(fn.Args)+8)
	for i, a := range fn.Args {
		env[a.Name] = args[i]
	}
	labels := make(map[string]int)
	for i, ins := range fn.Instrs {
		if l, ok := ins.(*bril.Label); ok {
			labels[l.Name] = i
		}
	}

	lookup := func(name string) (value, error) {
		v, ok := env[name]
		if !ok {
			if name == bril.Undefined {
				return value{}, ErrUndefinedValue
			}
			return value{}, fmt.Errorf("%w: %s", ErrUndefinedValue, name)
		}
		return v, nil
	}
	operands := func(op *bril.Op) ([]value, error) {
		vs := make([]value, len(op.Args))
		for i, name := range op.Args {
			v, err := lookup(name)
			if err != nil {
				return nil, err
			}
			vs[i] = v
		}
		return vs, nil
	}
	jump := func(pc int, name string) (int, error) {
		t, ok := labels[name]
		if !ok {
			return 0, errAt(fn, pc, fmt.Errorf("jump to unknown label .%s", name))
		}
		return t, nil
	}

	// cur is the label of the block being executed, prev the label of the
	// block executed before it. The label instruction itself rolls them over,
	// which covers jumps and fallthrough edges uniformly.
	var cur, prev string
	for pc := 0; pc < len(fn.Instrs); {
		if in.steps++; in.steps > budget {
			return nil, ErrStepBudget
		}
		switch ins := fn.Instrs[pc].(type) {
		case *bril.Label:
			prev, cur = cur, ins.Name
			pc++
			// Phis at a block head read their operands simultaneously: every
			// slot resolves against the environment from before the block was
			// entered, so a phi may feed another phi of the same block.
			end := pc
			for end < len(fn.Instrs) {
				op, ok := fn.Instrs[end].(*bril.Op)
				if !ok || op.Opcode != bril.OpPhi {
					break
				}
				end++
			}
			if end > pc {
				type update struct {
					dest    string
					v       value
					defined bool
				}
				pending := make([]update, 0, end-pc)
				for ; pc < end; pc++ {
					op := fn.Instrs[pc].(*bril.Op)
					v, defined, err := evalPhi(op, prev, lookup)
					if err != nil {
						return nil, errAt(fn, pc, err)
					}
					pending = append(pending, update{op.Dest, v, defined})
				}
				for _, u := range pending {
					if u.defined {
						env[u.dest] = u.v
					} else {
						delete(env, u.dest)
					}
				}
			}

		case *bril.Const:
			env[ins.Dest] = fromLiteral(ins.Value)
			pc++

		case *bril.Op:
			op := ins
			switch op.Opcode {
			case bril.OpNop:
				pc++

			case bril.OpPhi:
				// A phi outside a block-head run still selects by the
				// previous block's label, just without batching.
				v, defined, err := evalPhi(op, prev, lookup)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if defined {
					env[op.Dest] = v
				} else {
					delete(env, op.Dest)
				}
				pc++

			case bril.OpID:
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if len(vs) != 1 {
					return nil, errAt(fn, pc, errors.New("id wants one operand"))
				}
				env[op.Dest] = vs[0]
				pc++

			case bril.OpPrint:
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				parts := make([]string, len(vs))
				for i, v := range vs {
					parts[i] = v.String()
				}
				if _, err := fmt.Fprintln(in.out, strings.Join(parts, " ")); err != nil {
					return nil, errAt(fn, pc, err)
				}
				pc++

			case bril.OpCall:
				if len(op.Funcs) != 1 {
					return nil, errAt(fn, pc, errors.New("call wants exactly one function"))
				}
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				callee := in.prog.Function(op.Funcs[0])
				if callee == nil {
					return nil, errAt(fn, pc, fmt.Errorf("%w: @%s", ErrUnknownFunction, op.Funcs[0]))
				}
				if len(vs) != len(callee.Args) {
					return nil, errAt(fn, pc, fmt.Errorf("@%s wants %d arguments, got %d", callee.Name, len(callee.Args), len(vs)))
				}
				ret, err := in.runFunction(callee, vs, depth+1)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if op.Dest != "" {
					if ret == nil {
						return nil, errAt(fn, pc, fmt.Errorf("@%s returned no value", callee.Name))
					}
					env[op.Dest] = *ret
				}
				pc++

			case bril.OpJmp:
				if len(op.Labels) != 1 {
					return nil, errAt(fn, pc, errors.New("jmp wants exactly one label"))
				}
				t, err := jump(pc, op.Labels[0])
				if err != nil {
					return nil, err
				}
				pc = t

			case bril.OpBr:
				if len(op.Labels) != 2 || len(op.Args) != 1 {
					return nil, errAt(fn, pc, errors.New("br wants one condition and two labels"))
				}
				v, err := lookup(op.Args[0])
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if v.kind != valBool {
					return nil, errAt(fn, pc, errors.New("br condition is not a bool"))
				}
				name := op.Labels[0]
				if !v.b {
					name = op.Labels[1]
				}
				t, err := jump(pc, name)
				if err != nil {
					return nil, err
				}
				pc = t

			case bril.OpRet:
				if len(op.Args) == 0 {
					return nil, nil
				}
				v, err := lookup(op.Args[0])
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				return &v, nil

			case bril.OpAlloc:
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if len(vs) != 1 || vs[0].kind != valInt {
					return nil, errAt(fn, pc, errors.New("alloc wants one integer size"))
				}
				if vs[0].i <= 0 {
					return nil, errAt(fn, pc, fmt.Errorf("alloc of %d cells", vs[0].i))
				}
				id := in.nextAlloc
				in.nextAlloc++
				in.heap[id] = &allocation{cells: make([]value, vs[0].i)}
				env[op.Dest] = value{kind: valPtr, p: pointer{alloc: id}}
				pc++

			case bril.OpFree:
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if len(vs) != 1 || vs[0].kind != valPtr {
					return nil, errAt(fn, pc, errors.New("free wants one pointer"))
				}
				a := in.heap[vs[0].p.alloc]
				if a == nil || a.freed {
					return nil, errAt(fn, pc, ErrDoubleFree)
				}
				if vs[0].p.offset != 0 {
					return nil, errAt(fn, pc, errors.New("free of an interior pointer"))
				}
				a.freed = true
				a.cells = nil
				pc++

			case bril.OpStore:
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if len(vs) != 2 || vs[0].kind != valPtr {
					return nil, errAt(fn, pc, errors.New("store wants a pointer and a value"))
				}
				c, err := in.cell(vs[0].p)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				*c = vs[1]
				pc++

			case bril.OpLoad:
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if len(vs) != 1 || vs[0].kind != valPtr {
					return nil, errAt(fn, pc, errors.New("load wants one pointer"))
				}
				c, err := in.cell(vs[0].p)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if c.kind == valUninit {
					return nil, errAt(fn, pc, fmt.Errorf("%w: load of uninitialized cell", ErrUndefinedValue))
				}
				env[op.Dest] = *c
				pc++

			case bril.OpPtrAdd:
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				if len(vs) != 2 || vs[0].kind != valPtr || vs[1].kind != valInt {
					return nil, errAt(fn, pc, errors.New("ptradd wants a pointer and an integer"))
				}
				// An interior pointer may leave the allocation; the bounds
				// check happens when it is dereferenced, not when formed.
				env[op.Dest] = value{kind: valPtr, p: pointer{
					alloc:  vs[0].p.alloc,
					offset: vs[0].p.offset + vs[1].i,
				}}
				pc++

			case bril.OpSpeculate, bril.OpCommit, bril.OpGuard:
				return nil, errAt(fn, pc, fmt.Errorf("%w: %s", ErrUnsupportedOp, op.Opcode))

			default:
				// Pure arithmetic, comparison and logic all share the fold
				// table, so the evaluator and constant propagation cannot
				// disagree on a result.
				vs, err := operands(op)
				if err != nil {
					return nil, errAt(fn, pc, err)
				}
				lits := make([]bril.Literal, len(vs))
				for i, v := range vs {
					l, ok := v.literal()
					if !ok {
						return nil, errAt(fn, pc, fmt.Errorf("%s over a non-scalar operand", op.Opcode))
					}
					lits[i] = l
				}
				if op.Opcode == bril.OpDiv && len(lits) == 2 && lits[1].Kind == bril.LitInt && lits[1].Int == 0 {
					return nil, errAt(fn, pc, ErrDivisionByZero)
				}
				res, ok := bril.FoldOp(op.Opcode, lits)
				if !ok {
					return nil, errAt(fn, pc, fmt.Errorf("cannot evaluate %s", op.Opcode))
				}
				env[op.Dest] = fromLiteral(res)
				pc++
			}
		}
	}
	return nil, nil
}

func (in *Interpreter) cell(p pointer) (*value, error) {
	a := in.heap[p.alloc]
	if a == nil || a.freed {
		return nil, ErrUseAfterFree
	}
	if p.offset < 0 || p.offset >= int64(len(a.cells)) {
		return nil, ErrOutOfBounds
	}
	return &a.cells[p.offset], nil
}

// evalPhi resolves the slot matching the edge just traversed. A slot holding
// the undefined sentinel makes the destination undefined instead of faulting;
// the error surfaces only if something reads the value later.
func evalPhi(op *bril.Op, prev string, lookup func(string) (value, error)) (value, bool, error) {
	if len(op.Args) != len(op.Labels) {
		return value{}, false, errors.New("phi arguments and labels must be parallel")
	}
	for i, l := range op.Labels {
		if l != prev {
			continue
		}
		if op.Args[i] == bril.Undefined {
			return value{}, false, nil
		}
		v, err := lookup(op.Args[i])
		if err != nil {
			return value{}, false, err
		}
		return v, true, nil
	}
	return value{}, false, fmt.Errorf("phi has no slot for predecessor %q", prev)
}

func errAt(fn *bril.Function, idx int, err error) error {
	return fmt.Errorf("@%s instr %d: %w", fn.Name, idx, err)
}
