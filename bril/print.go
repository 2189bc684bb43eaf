package bril

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes the canonical textual form of the program.
func Fprint(w io.Writer, p *Program) error {
	for i, fn := range p.Functions {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if err := FprintFunction(w, fn); err != nil {
			return err
		}
	}
	return nil
}

// FprintFunction writes one function in textual form.
func FprintFunction(w io.Writer, fn *Function) error {
	var b strings.Builder
	b.WriteByte('@')
	b.WriteString(fn.Name)
	if len(fn.Args) > 0 {
		b.WriteByte('(')
		for i, a := range fn.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Name)
			b.WriteString(": ")
			b.WriteString(a.Type.String())
		}
		b.WriteByte(')')
	}
	if fn.Type.Kind != TypeNone {
		b.WriteString(": ")
		b.WriteString(fn.Type.String())
	}
	b.WriteString(" {\n")
	for _, in := range fn.Instrs {
		if _, isLabel := in.(*Label); !isLabel {
			b.WriteString("  ")
		}
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Sprint renders the program to a string, for logs and test diffs.
func Sprint(p *Program) string {
	var b strings.Builder
	Fprint(&b, p)
	return b.String()
}
