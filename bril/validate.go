package bril

import "fmt"

// Validate checks the structural well-formedness of a whole program: unique
// function names and, per function, everything ValidateFunction checks plus
// call targets resolving to program functions.
func Validate(p *Program) error {
	names := make(map[string]bool, len(p.Functions))
	for _, fn := range p.Functions {
		if names[fn.Name] {
			return fmt.Errorf("%w: duplicate function @%s", ErrMalformedProgram, fn.Name)
		}
		names[fn.Name] = true
	}
	for _, fn := range p.Functions {
		if err := ValidateFunction(fn); err != nil {
			return err
		}
		for i, in := range fn.Instrs {
			op, ok := in.(*Op)
			if !ok || op.Opcode != OpCall {
				continue
			}
			if len(op.Funcs) != 1 {
				return errAt(fn, i, "call needs exactly one function")
			}
			if !names[op.Funcs[0]] {
				return errAt(fn, i, fmt.Sprintf("call to unknown function @%s", op.Funcs[0]))
			}
		}
	}
	return nil
}

// ValidateFunction checks one function: label references resolve, terminator
// label arity is right, phi argument and label lists stay parallel, and every
// operand names a parameter or some destination in the function. The operand
// check is deliberately path-insensitive; uses that are undefined along some
// path only are left for SSA conversion to flag with its sentinel.
func ValidateFunction(fn *Function) error {
	labels := make(map[string]bool)
	defined := make(map[string]bool, len(fn.Args))
	for _, a := range fn.Args {
		defined[a.Name] = true
	}
	for i, in := range fn.Instrs {
		switch in := in.(type) {
		case *Label:
			if labels[in.Name] {
				return errAt(fn, i, fmt.Sprintf("duplicate label .%s", in.Name))
			}
			labels[in.Name] = true
		case *Const:
			defined[in.Dest] = true
		case *Op:
			if in.Dest != "" {
				defined[in.Dest] = true
			}
		}
	}
	for i, in := range fn.Instrs {
		op, ok := in.(*Op)
		if !ok {
			continue
		}
		switch op.Opcode {
		case OpJmp:
			if len(op.Labels) != 1 {
				return errAt(fn, i, "jmp needs exactly one label")
			}
		case OpBr:
			if len(op.Labels) != 2 {
				return errAt(fn, i, "br needs exactly two labels")
			}
			if len(op.Args) != 1 {
				return errAt(fn, i, "br needs exactly one condition")
			}
		case OpGuard:
			if len(op.Labels) != 1 {
				return errAt(fn, i, "guard needs exactly one label")
			}
		case OpPhi:
			if len(op.Args) != len(op.Labels) {
				return errAt(fn, i, "phi arguments and labels must be parallel")
			}
		}
		for _, l := range op.Labels {
			if !labels[l] {
				return errAt(fn, i, fmt.Sprintf("reference to unknown label .%s", l))
			}
		}
		for _, a := range op.Args {
			if a == Undefined {
				continue
			}
			if !defined[a] {
				return errAt(fn, i, fmt.Sprintf("use of undefined name %q", a))
			}
		}
	}
	return nil
}

// Undefined is the sentinel operand name standing for "no definition reaches
// this use". SSA renaming introduces it; validation and the interpreter
// recognize it.
const Undefined = "__undefined"

func errAt(fn *Function, idx int, msg string) error {
	return fmt.Errorf("%w: function @%s instr %d: %s", ErrMalformedProgram, fn.Name, idx, msg)
}
