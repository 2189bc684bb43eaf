package cfg_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/interp"
)

func parseFn(t *testing.T, src string) *bril.Function {
	t.Helper()
	p, err := bril.ParseProgram([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return p.Functions[0]
}

func build(t *testing.T, src string) *cfg.Graph {
	t.Helper()
	g, err := cfg.Build(parseFn(t, src))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return g
}

func names(g *cfg.Graph, ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Blocks[id].Name
	}
	return out
}

func TestBuildStraightLine(t *testing.T) {
	g := build(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"x","type":"int","value":1},
		{"op":"print","args":["x"]}]}]}`)
	if g.Len() != 1 {
		t.Fatalf("block count: have %d, want 1", g.Len())
	}
	b := g.Entry()
	if !b.Generated || b.Name == "" {
		t.Errorf("entry name not generated: %+v", b)
	}
	if len(b.Succs) != 0 || len(b.Preds) != 0 {
		t.Errorf("straight line grew edges: succs %v preds %v", b.Succs, b.Preds)
	}
	if b.Terminator() != nil {
		t.Error("unterminated block reported a terminator")
	}
}

func TestBuildEmptyFunction(t *testing.T) {
	g, err := cfg.Build(&bril.Function{Name: "empty"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("block count: have %d, want 1", g.Len())
	}
	if n := len(g.Entry().Instrs); n != 0 {
		t.Errorf("entry instruction count: have %d, want 0", n)
	}
}

func TestBuildFallthrough(t *testing.T) {
	g := build(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"x","type":"int","value":1},
		{"label":"next"},
		{"op":"print","args":["x"]}]}]}`)
	if g.Len() != 2 {
		t.Fatalf("block count: have %d, want 2", g.Len())
	}
	if got := g.Entry().Succs; len(got) != 1 || got[0] != 1 {
		t.Errorf("fallthrough edge: %v", got)
	}
	last := g.Blocks[1]
	if last.Name != "next" || last.Generated {
		t.Errorf("labeled block mishandled: %+v", last)
	}
	// The trailing block has no terminator and nothing to fall into.
	if len(last.Succs) != 0 {
		t.Errorf("final block grew successors: %v", last.Succs)
	}
}

const diamondSrc = `{"functions":[{"name":"main","args":[{"name":"c","type":"bool"}],"instrs":[
	{"op":"br","args":["c"],"labels":["then","else"]},
	{"label":"then"},
	{"op":"const","dest":"a","type":"int","value":1},
	{"op":"jmp","labels":["join"]},
	{"label":"else"},
	{"op":"const","dest":"a","type":"int","value":2},
	{"op":"jmp","labels":["join"]},
	{"label":"join"},
	{"op":"print","args":["a"]}]}]}`

func TestBuildDiamond(t *testing.T) {
	g := build(t, diamondSrc)
	if g.Len() != 4 {
		t.Fatalf("block count: have %d, want 4", g.Len())
	}
	if got := names(g, g.Entry().Succs); !equalStrings(got, []string{"then", "else"}) {
		t.Errorf("entry successors: %v", got)
	}
	join, ok := g.BlockByName("join")
	if !ok {
		t.Fatal("join block missing")
	}
	if got := names(g, join.Preds); !equalStrings(got, []string{"then", "else"}) {
		t.Errorf("join predecessors: %v", got)
	}
	term := g.Entry().Terminator()
	if term == nil || term.Opcode != bril.OpBr {
		t.Errorf("entry terminator: %v", term)
	}
}

func TestBuildSynthesizesEntry(t *testing.T) {
	g := build(t, `{"functions":[{"name":"main","instrs":[
		{"label":"top"},
		{"op":"nop"},
		{"op":"jmp","labels":["top"]}]}]}`)
	if g.Len() != 2 {
		t.Fatalf("block count: have %d, want 2", g.Len())
	}
	entry := g.Entry()
	if !entry.Generated {
		t.Error("synthesized entry not marked generated")
	}
	if len(entry.Preds) != 0 {
		t.Errorf("entry has predecessors: %v", entry.Preds)
	}
	top := g.Blocks[1]
	if top.Name != "top" {
		t.Fatalf("second block: %s", top.Name)
	}
	if got := names(g, top.Preds); !equalStrings(got, []string{entry.Name, "top"}) {
		t.Errorf("top predecessors: %v", got)
	}
}

func TestBuildUnknownLabel(t *testing.T) {
	_, err := cfg.Build(parseFn(t, `{"functions":[{"name":"main","instrs":[
		{"op":"jmp","labels":["nowhere"]}]}]}`))
	if !errors.Is(err, cfg.ErrUnknownLabel) {
		t.Errorf("error: %v", err)
	}
}

func TestBuildDeduplicatesBranchEdges(t *testing.T) {
	g := build(t, `{"functions":[{"name":"main","args":[{"name":"c","type":"bool"}],"instrs":[
		{"op":"br","args":["c"],"labels":["out","out"]},
		{"label":"out"},
		{"op":"ret"}]}]}`)
	if got := g.Entry().Succs; len(got) != 1 {
		t.Errorf("edges for same-target br: %v", got)
	}
	out, _ := g.BlockByName("out")
	if len(out.Preds) != 1 {
		t.Errorf("preds for same-target br: %v", out.Preds)
	}
}

const phiJoinSrc = `{"functions":[{"name":"main","args":[{"name":"c","type":"bool"}],"instrs":[
	{"op":"br","args":["c"],"labels":["then","else"]},
	{"label":"then"},
	{"op":"const","dest":"a","type":"int","value":1},
	{"op":"jmp","labels":["join"]},
	{"label":"else"},
	{"op":"const","dest":"b","type":"int","value":2},
	{"op":"jmp","labels":["join"]},
	{"label":"join"},
	{"op":"phi","dest":"x","type":"int","args":["a","b"],"labels":["then","else"]},
	{"op":"print","args":["x"]}]}]}`

func TestFoldBranch(t *testing.T) {
	g := build(t, phiJoinSrc)
	if err := g.FoldBranch(0, "then"); err != nil {
		t.Fatalf("fold: %v", err)
	}
	term := g.Entry().Terminator()
	if term == nil || term.Opcode != bril.OpJmp || term.Labels[0] != "then" {
		t.Errorf("folded terminator: %v", term)
	}
	els, _ := g.BlockByName("else")
	if len(els.Preds) != 0 {
		t.Errorf("untaken block keeps predecessors: %v", els.Preds)
	}

	if !g.PruneUnreachable() {
		t.Fatal("prune reported no change")
	}
	if _, ok := g.BlockByName("else"); ok {
		t.Error("unreachable block survived pruning")
	}
	join, _ := g.BlockByName("join")
	phis := join.Phis()
	if len(phis) != 1 {
		t.Fatalf("phi count: %d", len(phis))
	}
	if len(phis[0].Args) != 1 || phis[0].Args[0] != "a" || phis[0].Labels[0] != "then" {
		t.Errorf("phi slots after prune: args %v labels %v", phis[0].Args, phis[0].Labels)
	}
	// Ids were renumbered; edges must agree with the new arena.
	for _, b := range g.Blocks {
		for _, s := range b.Succs {
			if s < 0 || s >= g.Len() {
				t.Errorf("dangling successor %d in .%s", s, b.Name)
			}
		}
	}
}

func TestFoldBranchRejectsBadCalls(t *testing.T) {
	g := build(t, phiJoinSrc)
	then, _ := g.BlockByName("then")
	if err := g.FoldBranch(then.ID, "join"); err == nil {
		t.Error("folding a jmp block did not error")
	}
	if err := g.FoldBranch(0, "join"); err == nil {
		t.Error("folding to a non-target label did not error")
	}
}

func TestPruneUnreachableNoChange(t *testing.T) {
	g := build(t, diamondSrc)
	if g.PruneUnreachable() {
		t.Error("prune changed a fully reachable graph")
	}
	if g.Len() != 4 {
		t.Errorf("block count: have %d, want 4", g.Len())
	}
}

func TestFlattenRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		src  string
		args []bril.Literal
	}{
		{"diamond true", diamondSrc, []bril.Literal{bril.BoolLit(true)}},
		{"diamond false", diamondSrc, []bril.Literal{bril.BoolLit(false)}},
		{
			"loop with fallthrough", `{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"i","type":"int","value":0},
				{"op":"const","dest":"n","type":"int","value":3},
				{"label":"loop"},
				{"op":"print","args":["i"]},
				{"op":"const","dest":"one","type":"int","value":1},
				{"op":"add","dest":"i","type":"int","args":["i","one"]},
				{"op":"lt","dest":"c","type":"bool","args":["i","n"]},
				{"op":"br","args":["c"],"labels":["loop","done"]},
				{"label":"done"},
				{"op":"print","args":["n"]}]}]}`,
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := bril.ParseProgram([]byte(tt.src))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			var before bytes.Buffer
			if _, err := interp.Run(p, "main", tt.args, &before); err != nil {
				t.Fatalf("run before: %v", err)
			}

			g, err := cfg.Build(p.Functions[0])
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			g.FlattenInto(p.Functions[0])

			var after bytes.Buffer
			if _, err := interp.Run(p, "main", tt.args, &after); err != nil {
				t.Fatalf("run after: %v", err)
			}
			if before.String() != after.String() {
				t.Errorf("flatten changed behavior: have %q, want %q", after.String(), before.String())
			}
		})
	}
}

func TestFlattenOmitsUnreferencedGeneratedLabels(t *testing.T) {
	fn := parseFn(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"x","type":"int","value":1},
		{"op":"print","args":["x"]}]}]}`)
	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, in := range g.Flatten() {
		if _, ok := in.(*bril.Label); ok {
			t.Errorf("generated label leaked into output: %v", in)
		}
	}
}

func TestDot(t *testing.T) {
	g := build(t, diamondSrc)
	out := string(g.Dot(""))
	for _, want := range []string{"digraph CFG", "@main", ".then", ".else", "->"} {
		if !strings.Contains(out, want) {
			t.Errorf("dot output missing %q:\n%s", want, out)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
