package ssa_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/interp"
	"github.com/brilang/go-bril/ssa"
)

func parseProg(t *testing.T, src string) *bril.Program {
	t.Helper()
	p, err := bril.ParseProgram([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return p
}

func convert(t *testing.T, fn *bril.Function) *cfg.Graph {
	t.Helper()
	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := ssa.Convert(g); err != nil {
		t.Fatalf("convert: %v", err)
	}
	return g
}

func runMain(t *testing.T, p *bril.Program, args []bril.Literal) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := interp.Run(p, "main", args, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	return buf.String()
}

// base strips the version suffix a renamed variable carries.
func base(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func phisByBase(g *cfg.Graph) map[string][]*bril.Op {
	out := make(map[string][]*bril.Op)
	for _, b := range g.Blocks {
		for _, phi := range b.Phis() {
			out[base(phi.Dest)] = append(out[base(phi.Dest)], phi)
		}
	}
	return out
}

const countdownSrc = `{"functions":[{"name":"main","args":[{"name":"n","type":"int"}],"instrs":[
	{"op":"const","dest":"zero","type":"int","value":0},
	{"op":"id","dest":"i","type":"int","args":["n"]},
	{"label":"header"},
	{"op":"gt","dest":"c","type":"bool","args":["i","zero"]},
	{"op":"br","args":["c"],"labels":["body","done"]},
	{"label":"body"},
	{"op":"const","dest":"one","type":"int","value":1},
	{"op":"sub","dest":"i","type":"int","args":["i","one"]},
	{"op":"jmp","labels":["header"]},
	{"label":"done"},
	{"op":"print","args":["i"]}]}]}`

func TestConvertLoop(t *testing.T) {
	p := parseProg(t, countdownSrc)
	args := []bril.Literal{bril.IntLit(3)}
	want := runMain(t, p, args)

	g := convert(t, p.Functions[0])
	if err := ssa.Check(g); err != nil {
		t.Fatalf("check: %v", err)
	}

	phis := phisByBase(g)
	// The loop variable joins two reaching definitions at the header, in a
	// single phi with one slot per predecessor.
	iphis := phis["i"]
	if len(iphis) != 1 {
		t.Fatalf("phi count for i: have %d, want 1", len(iphis))
	}
	header, _ := g.BlockByName("header")
	if got := header.Phis(); len(got) == 0 {
		t.Fatal("header has no phis")
	}
	phi := iphis[0]
	if len(phi.Args) != 2 || len(phi.Labels) != 2 {
		t.Fatalf("phi slots: args %v labels %v", phi.Args, phi.Labels)
	}
	for _, a := range phi.Args {
		if a == bril.Undefined {
			t.Errorf("loop variable slot is undefined: %v", phi.Args)
		}
		if base(a) != "i" {
			t.Errorf("phi argument %q crosses variables", a)
		}
	}

	// Variables first defined inside the loop reach the header as the
	// sentinel along the entry edge.
	onephis := phis["one"]
	if len(onephis) != 1 {
		t.Fatalf("phi count for one: have %d, want 1", len(onephis))
	}
	undef := 0
	for _, a := range onephis[0].Args {
		if a == bril.Undefined {
			undef++
		}
	}
	if undef != 1 {
		t.Errorf("sentinel slots for one: have %d, want 1", undef)
	}

	for b, list := range phis {
		if len(list) > 1 {
			t.Errorf("variable %s has %d phis", b, len(list))
		}
	}

	g.FlattenInto(p.Functions[0])
	if got := runMain(t, p, args); got != want {
		t.Errorf("output changed: have %q, want %q", got, want)
	}
}

const branchDefSrc = `{"functions":[{"name":"main","args":[{"name":"c","type":"bool"}],"instrs":[
	{"op":"br","args":["c"],"labels":["then","else"]},
	{"label":"then"},
	{"op":"const","dest":"x","type":"int","value":1},
	{"op":"jmp","labels":["join"]},
	{"label":"else"},
	{"op":"const","dest":"x","type":"int","value":2},
	{"op":"jmp","labels":["join"]},
	{"label":"join"},
	{"op":"print","args":["x"]}]}]}`

func TestConvertDiamond(t *testing.T) {
	for _, flag := range []bool{true, false} {
		p := parseProg(t, branchDefSrc)
		args := []bril.Literal{bril.BoolLit(flag)}
		want := runMain(t, p, args)

		g := convert(t, p.Functions[0])
		if err := ssa.Check(g); err != nil {
			t.Fatalf("check: %v", err)
		}
		join, _ := g.BlockByName("join")
		phis := join.Phis()
		if len(phis) != 1 {
			t.Fatalf("join phi count: have %d, want 1", len(phis))
		}
		if len(phis[0].Args) != 2 {
			t.Fatalf("join phi slots: %v", phis[0].Args)
		}

		g.FlattenInto(p.Functions[0])
		if got := runMain(t, p, args); got != want {
			t.Errorf("flag %v: output changed: have %q, want %q", flag, got, want)
		}
	}
}

func TestConvertPartialDefinition(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","args":[{"name":"c","type":"bool"}],"instrs":[
		{"op":"br","args":["c"],"labels":["def","skip"]},
		{"label":"def"},
		{"op":"const","dest":"x","type":"int","value":5},
		{"op":"jmp","labels":["join"]},
		{"label":"skip"},
		{"op":"jmp","labels":["join"]},
		{"label":"join"},
		{"op":"print","args":["x"]}]}]}`)
	args := []bril.Literal{bril.BoolLit(true)}
	want := runMain(t, p, args)

	g := convert(t, p.Functions[0])
	join, _ := g.BlockByName("join")
	phis := join.Phis()
	if len(phis) != 1 {
		t.Fatalf("join phi count: have %d, want 1", len(phis))
	}
	undef := 0
	for _, a := range phis[0].Args {
		if a == bril.Undefined {
			undef++
		}
	}
	if undef != 1 {
		t.Errorf("sentinel slots: have %d, want 1", undef)
	}
	if err := ssa.Check(g); err != nil {
		t.Fatalf("check: %v", err)
	}

	// The defined path still works after conversion.
	g.FlattenInto(p.Functions[0])
	if got := runMain(t, p, args); got != want {
		t.Errorf("output changed: have %q, want %q", got, want)
	}
}

func TestConvertRejectsExistingPhis(t *testing.T) {
	p := parseProg(t, branchDefSrc)
	g := convert(t, p.Functions[0])
	g.FlattenInto(p.Functions[0])

	g2, err := cfg.Build(p.Functions[0])
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if err := ssa.Convert(g2); !errors.Is(err, ssa.ErrAlreadySSA) {
		t.Errorf("error: %v", err)
	}
}

func TestConvertPrunesUnreachable(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"x","type":"int","value":1},
		{"op":"print","args":["x"]},
		{"op":"ret"},
		{"label":"orphan"},
		{"op":"const","dest":"x","type":"int","value":2},
		{"op":"ret"}]}]}`)
	g := convert(t, p.Functions[0])
	if _, ok := g.BlockByName("orphan"); ok {
		t.Error("unreachable block survived conversion")
	}
	if err := ssa.Check(g); err != nil {
		t.Errorf("check: %v", err)
	}
}

func TestDeconstructRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		src  string
		args []bril.Literal
	}{
		{"countdown", countdownSrc, []bril.Literal{bril.IntLit(4)}},
		{"diamond", branchDefSrc, []bril.Literal{bril.BoolLit(false)}},
		{
			// Parallel phi reads at the header must not clobber each other
			// when lowered to sequential copies.
			"swap loop",
			`{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"x","type":"int","value":1},
				{"op":"const","dest":"y","type":"int","value":2},
				{"op":"const","dest":"i","type":"int","value":0},
				{"label":"loop"},
				{"op":"id","dest":"tmp","type":"int","args":["x"]},
				{"op":"id","dest":"x","type":"int","args":["y"]},
				{"op":"id","dest":"y","type":"int","args":["tmp"]},
				{"op":"const","dest":"one","type":"int","value":1},
				{"op":"add","dest":"i","type":"int","args":["i","one"]},
				{"op":"const","dest":"three","type":"int","value":3},
				{"op":"lt","dest":"c","type":"bool","args":["i","three"]},
				{"op":"br","args":["c"],"labels":["loop","done"]},
				{"label":"done"},
				{"op":"print","args":["x","y"]}]}]}`,
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseProg(t, tt.src)
			want := runMain(t, p, tt.args)

			g := convert(t, p.Functions[0])
			if err := ssa.Check(g); err != nil {
				t.Fatalf("check: %v", err)
			}
			if err := ssa.Deconstruct(g); err != nil {
				t.Fatalf("deconstruct: %v", err)
			}
			for _, b := range g.Blocks {
				if len(b.Phis()) != 0 {
					t.Errorf("block .%s kept phis", b.Name)
				}
			}
			g.FlattenInto(p.Functions[0])
			if got := runMain(t, p, tt.args); got != want {
				t.Errorf("output changed: have %q, want %q", got, want)
			}
		})
	}
}

func TestDeconstructRejectsBadPhi(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"a","type":"int","value":1},
		{"op":"jmp","labels":["join"]},
		{"label":"join"},
		{"op":"phi","dest":"x","type":"int","args":["a"],"labels":["nowhere"]},
		{"op":"print","args":["x"]}]}]}`)
	g, err := cfg.Build(p.Functions[0])
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := ssa.Deconstruct(g); !errors.Is(err, ssa.ErrBadPhi) {
		t.Errorf("error: %v", err)
	}
}

func TestCheckRejectsDoubleDefinition(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"x","type":"int","value":1},
		{"op":"const","dest":"x","type":"int","value":2},
		{"op":"print","args":["x"]}]}]}`)
	g, err := cfg.Build(p.Functions[0])
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := ssa.Check(g); err == nil {
		t.Error("double definition passed the checker")
	}
}

func TestCheckRejectsUndominatedUse(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","args":[{"name":"c","type":"bool"}],"instrs":[
		{"op":"br","args":["c"],"labels":["a","b"]},
		{"label":"a"},
		{"op":"const","dest":"x","type":"int","value":1},
		{"op":"ret"},
		{"label":"b"},
		{"op":"id","dest":"y","type":"int","args":["x"]},
		{"op":"print","args":["y"]}]}]}`)
	g, err := cfg.Build(p.Functions[0])
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := ssa.Check(g); err == nil {
		t.Error("undominated use passed the checker")
	}
}
