// Package bril models the Bril intermediate representation: programs of
// functions whose bodies are flat, label-addressed instruction lists, together
// with the JSON wire codec, the textual form, and load-time validation.
package bril

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind discriminates the static types of the IR.
type TypeKind uint8

const (
	TypeNone TypeKind = iota // absence of a type (effects, void returns)
	TypeInt                  // 64-bit signed integer
	TypeBool                 // boolean
	TypePtr                  // pointer into an allocation, parameterized
)

// Type is the static type of a value. The zero value means "no type".
type Type struct {
	Kind TypeKind
	Elem *Type // element type when Kind is TypePtr
}

var (
	IntType  = Type{Kind: TypeInt}
	BoolType = Type{Kind: TypeBool}
)

// PtrTo returns the pointer type with the given element type.
func PtrTo(elem Type) Type {
	e := elem
	return Type{Kind: TypePtr, Elem: &e}
}

// IsPtr reports whether the type is a pointer type.
func (t Type) IsPtr() bool { return t.Kind == TypePtr }

// Equal reports whether two types are structurally identical.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	if t.Kind == TypePtr {
		return t.Elem.Equal(*o.Elem)
	}
	return true
}

func (t Type) String() string {
	switch t.Kind {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypePtr:
		return "ptr<" + t.Elem.String() + ">"
	default:
		return "void"
	}
}

// LitKind discriminates literal values.
type LitKind uint8

const (
	LitInt LitKind = iota
	LitBool
)

// Literal is a constant value carried by a const instruction.
type Literal struct {
	Kind LitKind
	Int  int64
	Bool bool
}

// IntLit returns an integer literal.
func IntLit(v int64) Literal { return Literal{Kind: LitInt, Int: v} }

// BoolLit returns a boolean literal.
func BoolLit(v bool) Literal { return Literal{Kind: LitBool, Bool: v} }

// Type returns the static type of the literal.
func (l Literal) Type() Type {
	if l.Kind == LitBool {
		return BoolType
	}
	return IntType
}

// Equal reports whether two literals hold the same value.
func (l Literal) Equal(o Literal) bool { return l == o }

func (l Literal) String() string {
	if l.Kind == LitBool {
		return strconv.FormatBool(l.Bool)
	}
	return strconv.FormatInt(l.Int, 10)
}

// Instruction is one entry in a function body: a label, a constant definition,
// or an operation. The implementation set is closed; consumers dispatch with a
// type switch over *Label, *Const and *Op.
type Instruction interface {
	isInstruction()
	fmt.Stringer
}

// Label names a position in the instruction list.
type Label struct {
	Name string
}

// Const binds a literal value to a destination variable.
type Const struct {
	Dest  string
	Type  Type
	Value Literal
}

// Op is any operation: value-producing when Dest is set, pure effect
// otherwise. Args name operand variables, Funcs referenced functions, Labels
// referenced labels; Args and Labels are parallel for phi.
type Op struct {
	Opcode Opcode
	Dest   string
	Type   Type
	Args   []string
	Funcs  []string
	Labels []string
}

func (*Label) isInstruction() {}
func (*Const) isInstruction() {}
func (*Op) isInstruction()    {}

func (l *Label) String() string {
	return "." + l.Name + ":"
}

func (c *Const) String() string {
	return fmt.Sprintf("%s: %s = const %s;", c.Dest, c.Type, c.Value)
}

func (o *Op) String() string {
	var b strings.Builder
	if o.Dest != "" {
		b.WriteString(o.Dest)
		b.WriteString(": ")
		b.WriteString(o.Type.String())
		b.WriteString(" = ")
	}
	b.WriteString(o.Opcode.String())
	for _, f := range o.Funcs {
		b.WriteString(" @")
		b.WriteString(f)
	}
	for _, a := range o.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	for _, l := range o.Labels {
		b.WriteString(" .")
		b.WriteString(l)
	}
	b.WriteByte(';')
	return b.String()
}

// Copy returns a deep copy of the instruction.
func (l *Label) Copy() *Label { c := *l; return &c }

// Copy returns a deep copy of the instruction.
func (c *Const) Copy() *Const { d := *c; return &d }

// Copy returns a deep copy of the instruction.
func (o *Op) Copy() *Op {
	d := *o
	d.Args = append([]string(nil), o.Args...)
	d.Funcs = append([]string(nil), o.Funcs...)
	d.Labels = append([]string(nil), o.Labels...)
	return &d
}

// CopyInstruction deep-copies any instruction variant.
func CopyInstruction(in Instruction) Instruction {
	switch in := in.(type) {
	case *Label:
		return in.Copy()
	case *Const:
		return in.Copy()
	case *Op:
		return in.Copy()
	default:
		panic(fmt.Sprintf("bril: unknown instruction variant %T", in))
	}
}

// Dest returns the destination variable of in, or "" for labels and
// effect-only operations.
func Dest(in Instruction) string {
	switch in := in.(type) {
	case *Const:
		return in.Dest
	case *Op:
		return in.Dest
	}
	return ""
}

// Arg is a named, typed function parameter.
type Arg struct {
	Name string
	Type Type
}

// Function is a named body of instructions with typed parameters and an
// optional return type.
type Function struct {
	Name   string
	Args   []Arg
	Type   Type // TypeNone for void
	Instrs []Instruction
}

// Copy returns a deep copy of the function.
func (fn *Function) Copy() *Function {
	out := &Function{
		Name:   fn.Name,
		Args:   append([]Arg(nil), fn.Args...),
		Type:   fn.Type,
		Instrs: make([]Instruction, len(fn.Instrs)),
	}
	for i, in := range fn.Instrs {
		out.Instrs[i] = CopyInstruction(in)
	}
	return out
}

// Program is a complete Bril program.
type Program struct {
	Functions []*Function
}

// Function returns the named function, or nil.
func (p *Program) Function(name string) *Function {
	for _, fn := range p.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Copy returns a deep copy of the program.
func (p *Program) Copy() *Program {
	out := &Program{Functions: make([]*Function, len(p.Functions))}
	for i, fn := range p.Functions {
		out.Functions[i] = fn.Copy()
	}
	return out
}
