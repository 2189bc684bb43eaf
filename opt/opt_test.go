package opt

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/kylelemons/godebug/diff"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/brildb/memorydb"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/dom"
	"github.com/brilang/go-bril/interp"
)

func parseProg(t *testing.T, src string) *bril.Program {
	t.Helper()
	p, err := bril.ParseProgram([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return p
}

func runMain(t *testing.T, p *bril.Program, args []bril.Literal) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := interp.Run(p, "main", args, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	return buf.String()
}

func countOps(fn *bril.Function, op bril.Opcode) int {
	n := 0
	for _, in := range fn.Instrs {
		if o, ok := in.(*bril.Op); ok && o.Opcode == op {
			n++
		}
	}
	return n
}

func hasLabel(fn *bril.Function, name string) bool {
	for _, in := range fn.Instrs {
		if l, ok := in.(*bril.Label); ok && l.Name == name {
			return true
		}
	}
	return false
}

// countOpsInLoops returns how many instructions with the given opcode sit
// inside natural loop bodies of fn.
func countOpsInLoops(t *testing.T, fn *bril.Function, opcode bril.Opcode) int {
	t.Helper()
	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	info := dom.Compute(g)
	count := 0
	for _, l := range FindLoops(g, info) {
		for id, ok := l.Blocks.NextSet(0); ok; id, ok = l.Blocks.NextSet(id + 1) {
			for _, in := range g.Blocks[id].Instrs {
				if o, isOp := in.(*bril.Op); isOp && o.Opcode == opcode {
					count++
				}
			}
		}
	}
	return count
}

func TestConstPropFoldsArithmetic(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"a","type":"int","value":2},
		{"op":"const","dest":"b","type":"int","value":3},
		{"op":"add","dest":"c","type":"int","args":["a","b"]},
		{"op":"mul","dest":"d","type":"int","args":["c","c"]},
		{"op":"print","args":["d"]}]}]}`)
	want := runMain(t, p, nil)

	changed, err := ConstProp(p.Functions[0])
	if err != nil {
		t.Fatalf("constprop: %v", err)
	}
	if !changed {
		t.Fatal("constprop reported no change")
	}
	if n := countOps(p.Functions[0], bril.OpAdd); n != 0 {
		t.Errorf("add survived folding: %d", n)
	}
	if n := countOps(p.Functions[0], bril.OpMul); n != 0 {
		t.Errorf("mul survived folding: %d", n)
	}
	if got := runMain(t, p, nil); got != want {
		t.Errorf("output changed: have %q, want %q", got, want)
	}
}

func TestConstPropFoldsBranch(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"cond","type":"bool","value":true},
		{"op":"br","args":["cond"],"labels":["then","else"]},
		{"label":"then"},
		{"op":"const","dest":"x","type":"int","value":1},
		{"op":"print","args":["x"]},
		{"op":"ret"},
		{"label":"else"},
		{"op":"const","dest":"y","type":"int","value":2},
		{"op":"print","args":["y"]},
		{"op":"ret"}]}]}`)

	changed, err := ConstProp(p.Functions[0])
	if err != nil {
		t.Fatalf("constprop: %v", err)
	}
	if !changed {
		t.Fatal("constprop reported no change")
	}
	fn := p.Functions[0]
	if n := countOps(fn, bril.OpBr); n != 0 {
		t.Errorf("br survived folding: %d", n)
	}
	if countOps(fn, bril.OpJmp) == 0 {
		t.Error("folded branch did not become a jmp")
	}
	if hasLabel(fn, "else") {
		t.Error("untaken branch target was not pruned")
	}
	if got := runMain(t, p, nil); got != "1\n" {
		t.Errorf("output: have %q, want %q", got, "1\n")
	}
}

func TestDeadCodeRemovesUnused(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"a","type":"int","value":4},
		{"op":"const","dest":"unused","type":"int","value":9},
		{"op":"add","dest":"alsounused","type":"int","args":["a","a"]},
		{"op":"print","args":["a"]}]}]}`)

	changed, err := DeadCode(p.Functions[0])
	if err != nil {
		t.Fatalf("dce: %v", err)
	}
	if !changed {
		t.Fatal("dce reported no change")
	}
	if n := len(p.Functions[0].Instrs); n != 2 {
		t.Errorf("instruction count: have %d, want 2", n)
	}
	if got := runMain(t, p, nil); got != "4\n" {
		t.Errorf("output: have %q, want %q", got, "4\n")
	}
}

func TestDeadCodeTransitiveChain(t *testing.T) {
	// c reads b, b reads a; only the chain's head feeds the print, so the
	// tail dies over successive sweeps.
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"a","type":"int","value":1},
		{"op":"add","dest":"b","type":"int","args":["a","a"]},
		{"op":"add","dest":"c","type":"int","args":["b","b"]},
		{"op":"print","args":["a"]}]}]}`)

	if _, err := DeadCode(p.Functions[0]); err != nil {
		t.Fatalf("dce: %v", err)
	}
	if n := len(p.Functions[0].Instrs); n != 2 {
		t.Errorf("instruction count: have %d, want 2", n)
	}
}

func TestDeadCodeKeepsEffectfulResults(t *testing.T) {
	p := parseProg(t, `{"functions":[
		{"name":"main","instrs":[
			{"op":"call","dest":"r","type":"int","funcs":["work"],"args":[]},
			{"op":"const","dest":"z","type":"int","value":0},
			{"op":"print","args":["z"]}]},
		{"name":"work","type":"int","instrs":[
			{"op":"const","dest":"s","type":"int","value":7},
			{"op":"print","args":["s"]},
			{"op":"ret","args":["s"]}]}]}`)
	want := runMain(t, p, nil)

	if _, err := DeadCode(p.Functions[0]); err != nil {
		t.Fatalf("dce: %v", err)
	}
	if n := countOps(p.Functions[0], bril.OpCall); n != 1 {
		t.Errorf("call count: have %d, want 1", n)
	}
	if got := runMain(t, p, nil); got != want {
		t.Errorf("output changed: have %q, want %q", got, want)
	}
}

func TestDeadStoresOverwrite(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"one","type":"int","value":1},
		{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["one"]},
		{"op":"const","dest":"a","type":"int","value":10},
		{"op":"const","dest":"b","type":"int","value":20},
		{"op":"store","args":["p","a"]},
		{"op":"store","args":["p","b"]},
		{"op":"load","dest":"v","type":"int","args":["p"]},
		{"op":"print","args":["v"]},
		{"op":"free","args":["p"]}]}]}`)

	changed, err := DeadStores(p.Functions[0])
	if err != nil {
		t.Fatalf("dse: %v", err)
	}
	if !changed {
		t.Fatal("dse reported no change")
	}
	if n := countOps(p.Functions[0], bril.OpStore); n != 1 {
		t.Errorf("store count: have %d, want 1", n)
	}
	if got := runMain(t, p, nil); got != "20\n" {
		t.Errorf("output: have %q, want %q", got, "20\n")
	}
}

func TestDeadStoresKeptAcrossReads(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			// The load may observe the first store.
			"load between stores",
			`{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"one","type":"int","value":1},
				{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["one"]},
				{"op":"const","dest":"a","type":"int","value":10},
				{"op":"store","args":["p","a"]},
				{"op":"load","dest":"t","type":"int","args":["p"]},
				{"op":"print","args":["t"]},
				{"op":"const","dest":"b","type":"int","value":20},
				{"op":"store","args":["p","b"]},
				{"op":"load","dest":"v","type":"int","args":["p"]},
				{"op":"print","args":["v"]},
				{"op":"free","args":["p"]}]}]}`,
		},
		{
			// The callee could read any reachable memory.
			"call between stores",
			`{"functions":[
				{"name":"main","instrs":[
					{"op":"const","dest":"one","type":"int","value":1},
					{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["one"]},
					{"op":"const","dest":"a","type":"int","value":10},
					{"op":"store","args":["p","a"]},
					{"op":"call","funcs":["noop"],"args":[]},
					{"op":"const","dest":"b","type":"int","value":20},
					{"op":"store","args":["p","b"]},
					{"op":"free","args":["p"]}]},
				{"name":"noop","instrs":[{"op":"ret"}]}]}`,
		},
		{
			// Same site, different cells: ptradd offsets must not be
			// confused with the base pointer.
			"offset store",
			`{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"two","type":"int","value":2},
				{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["two"]},
				{"op":"const","dest":"one","type":"int","value":1},
				{"op":"ptradd","dest":"q","type":{"ptr":"int"},"args":["p","one"]},
				{"op":"const","dest":"a","type":"int","value":10},
				{"op":"const","dest":"b","type":"int","value":20},
				{"op":"store","args":["p","a"]},
				{"op":"store","args":["q","b"]},
				{"op":"load","dest":"v","type":"int","args":["p"]},
				{"op":"print","args":["v"]},
				{"op":"free","args":["p"]}]}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseProg(t, tt.src)
			stores := countOps(p.Functions[0], bril.OpStore)
			changed, err := DeadStores(p.Functions[0])
			if err != nil {
				t.Fatalf("dse: %v", err)
			}
			if changed {
				t.Error("dse changed a function with no dead stores")
			}
			if n := countOps(p.Functions[0], bril.OpStore); n != stores {
				t.Errorf("store count: have %d, want %d", n, stores)
			}
		})
	}
}

const loopSrc = `{"functions":[{"name":"main","args":[{"name":"n","type":"int"}],"instrs":[
	{"op":"const","dest":"a","type":"int","value":6},
	{"op":"const","dest":"b","type":"int","value":7},
	{"op":"const","dest":"i","type":"int","value":0},
	{"label":"header"},
	{"op":"lt","dest":"cond","type":"bool","args":["i","n"]},
	{"op":"br","args":["cond"],"labels":["body","exit"]},
	{"label":"body"},
	{"op":"mul","dest":"x","type":"int","args":["a","b"]},
	{"op":"const","dest":"one","type":"int","value":1},
	{"op":"add","dest":"i","type":"int","args":["i","one"]},
	{"op":"jmp","labels":["header"]},
	{"label":"exit"},
	{"op":"print","args":["x"]}]}]}`

func TestLICMHoistsInvariant(t *testing.T) {
	p := parseProg(t, loopSrc)
	args := []bril.Literal{bril.IntLit(3)}
	want := runMain(t, p, args)

	for _, pass := range ByNames("ssa", "licm") {
		if _, err := pass.Run(p.Functions[0]); err != nil {
			t.Fatalf("%s: %v", pass.Name, err)
		}
	}
	if n := countOpsInLoops(t, p.Functions[0], bril.OpMul); n != 0 {
		t.Errorf("mul still inside the loop: %d", n)
	}
	if n := countOps(p.Functions[0], bril.OpMul); n != 1 {
		t.Errorf("mul count after hoist: have %d, want 1", n)
	}
	if got := runMain(t, p, args); got != want {
		t.Errorf("output changed: have %q, want %q", got, want)
	}
}

func TestLICMSelfLoop(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"a","type":"int","value":5},
		{"op":"const","dest":"i","type":"int","value":0},
		{"label":"loop"},
		{"op":"add","dest":"y","type":"int","args":["a","a"]},
		{"op":"const","dest":"one","type":"int","value":1},
		{"op":"add","dest":"i","type":"int","args":["i","one"]},
		{"op":"lt","dest":"c","type":"bool","args":["i","a"]},
		{"op":"br","args":["c"],"labels":["loop","done"]},
		{"label":"done"},
		{"op":"print","args":["y"]}]}]}`)
	want := runMain(t, p, nil)

	for _, pass := range ByNames("ssa", "licm") {
		if _, err := pass.Run(p.Functions[0]); err != nil {
			t.Fatalf("%s: %v", pass.Name, err)
		}
	}
	// Only the induction increment may remain inside the loop.
	if n := countOpsInLoops(t, p.Functions[0], bril.OpAdd); n != 1 {
		t.Errorf("adds inside self loop: have %d, want 1", n)
	}
	if got := runMain(t, p, nil); got != want {
		t.Errorf("output changed: have %q, want %q", got, want)
	}
}

func TestLICMSkipsLoopWithoutPreheader(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","args":[{"name":"flag","type":"bool"}],"instrs":[
		{"op":"const","dest":"a","type":"int","value":6},
		{"op":"const","dest":"b","type":"int","value":7},
		{"op":"const","dest":"i","type":"int","value":0},
		{"op":"br","args":["flag"],"labels":["left","right"]},
		{"label":"left"},
		{"op":"jmp","labels":["header"]},
		{"label":"right"},
		{"op":"jmp","labels":["header"]},
		{"label":"header"},
		{"op":"const","dest":"limit","type":"int","value":2},
		{"op":"lt","dest":"cond","type":"bool","args":["i","limit"]},
		{"op":"br","args":["cond"],"labels":["body","exit"]},
		{"label":"body"},
		{"op":"mul","dest":"x","type":"int","args":["a","b"]},
		{"op":"const","dest":"one","type":"int","value":1},
		{"op":"add","dest":"i","type":"int","args":["i","one"]},
		{"op":"jmp","labels":["header"]},
		{"label":"exit"},
		{"op":"print","args":["x"]}]}]}`)
	args := []bril.Literal{bril.BoolLit(true)}
	want := runMain(t, p, args)

	if _, err := ToSSA(p.Functions[0]); err != nil {
		t.Fatalf("ssa: %v", err)
	}
	changed, err := LICM(p.Functions[0])
	if err != nil {
		t.Fatalf("licm: %v", err)
	}
	if changed {
		t.Error("licm hoisted from a loop without a usable preheader")
	}
	if n := countOpsInLoops(t, p.Functions[0], bril.OpMul); n != 1 {
		t.Errorf("mul left the loop: count %d", n)
	}
	if got := runMain(t, p, args); got != want {
		t.Errorf("output changed: have %q, want %q", got, want)
	}
}

func TestLICMNeverHoistsEffects(t *testing.T) {
	p := parseProg(t, `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"one","type":"int","value":1},
		{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["one"]},
		{"op":"const","dest":"seed","type":"int","value":3},
		{"op":"store","args":["p","seed"]},
		{"op":"const","dest":"i","type":"int","value":0},
		{"label":"loop"},
		{"op":"load","dest":"v","type":"int","args":["p"]},
		{"op":"add","dest":"i","type":"int","args":["i","one"]},
		{"op":"lt","dest":"c","type":"bool","args":["i","v"]},
		{"op":"br","args":["c"],"labels":["loop","done"]},
		{"label":"done"},
		{"op":"print","args":["v"]},
		{"op":"free","args":["p"]}]}]}`)
	want := runMain(t, p, nil)

	for _, pass := range ByNames("ssa", "licm") {
		if _, err := pass.Run(p.Functions[0]); err != nil {
			t.Fatalf("%s: %v", pass.Name, err)
		}
	}
	if n := countOpsInLoops(t, p.Functions[0], bril.OpLoad); n != 1 {
		t.Errorf("load moved out of the loop: count %d", n)
	}
	if got := runMain(t, p, nil); got != want {
		t.Errorf("output changed: have %q, want %q", got, want)
	}
}

func TestFindLoops(t *testing.T) {
	p := parseProg(t, loopSrc)
	g, err := cfg.Build(p.Functions[0])
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	loops := FindLoops(g, dom.Compute(g))
	if len(loops) != 1 {
		t.Fatalf("loop count: have %d, want 1", len(loops))
	}
	l := loops[0]
	if g.Blocks[l.Header].Name != "header" {
		t.Errorf("header: have %s", g.Blocks[l.Header].Name)
	}
	if g.Blocks[l.Back].Name != "body" {
		t.Errorf("back-edge source: have %s", g.Blocks[l.Back].Name)
	}
	if n := l.Blocks.Count(); n != 2 {
		t.Errorf("loop body size: have %d, want 2", n)
	}

	// A branch diamond has no back edges.
	p = parseProg(t, `{"functions":[{"name":"main","args":[{"name":"c","type":"bool"}],"instrs":[
		{"op":"br","args":["c"],"labels":["l","r"]},
		{"label":"l"},
		{"op":"jmp","labels":["out"]},
		{"label":"r"},
		{"op":"jmp","labels":["out"]},
		{"label":"out"},
		{"op":"ret"}]}]}`)
	g, err = cfg.Build(p.Functions[0])
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if loops := FindLoops(g, dom.Compute(g)); len(loops) != 0 {
		t.Errorf("diamond reported loops: %d", len(loops))
	}
}

func TestPipelinePreservesSemantics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		args []bril.Literal
	}{
		{"counting loop", loopSrc, []bril.Literal{bril.IntLit(4)}},
		{
			"swap",
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
		{
			"memory",
			`{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"two","type":"int","value":2},
				{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["two"]},
				{"op":"const","dest":"one","type":"int","value":1},
				{"op":"ptradd","dest":"q","type":{"ptr":"int"},"args":["p","one"]},
				{"op":"const","dest":"a","type":"int","value":11},
				{"op":"const","dest":"b","type":"int","value":22},
				{"op":"store","args":["p","a"]},
				{"op":"store","args":["q","b"]},
				{"op":"load","dest":"u","type":"int","args":["p"]},
				{"op":"load","dest":"v","type":"int","args":["q"]},
				{"op":"add","dest":"s","type":"int","args":["u","v"]},
				{"op":"print","args":["s"]},
				{"op":"free","args":["p"]}]}]}`,
			nil,
		},
		{
			"recursion",
			`{"functions":[
				{"name":"main","instrs":[
					{"op":"const","dest":"n","type":"int","value":6},
					{"op":"call","dest":"r","type":"int","funcs":["fact"],"args":["n"]},
					{"op":"print","args":["r"]}]},
				{"name":"fact","args":[{"name":"n","type":"int"}],"type":"int","instrs":[
					{"op":"const","dest":"one","type":"int","value":1},
					{"op":"le","dest":"base","type":"bool","args":["n","one"]},
					{"op":"br","args":["base"],"labels":["then","else"]},
					{"label":"then"},
					{"op":"ret","args":["one"]},
					{"label":"else"},
					{"op":"sub","dest":"m","type":"int","args":["n","one"]},
					{"op":"call","dest":"r","type":"int","funcs":["fact"],"args":["m"]},
					{"op":"mul","dest":"out","type":"int","args":["n","r"]},
					{"op":"ret","args":["out"]}]}]}`,
			nil,
		},
		{
			"nested branches on constants",
			`{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"t","type":"bool","value":true},
				{"op":"const","dest":"f","type":"bool","value":false},
				{"op":"br","args":["t"],"labels":["a","b"]},
				{"label":"a"},
				{"op":"br","args":["f"],"labels":["b","c"]},
				{"label":"b"},
				{"op":"const","dest":"x","type":"int","value":1},
				{"op":"print","args":["x"]},
				{"op":"ret"},
				{"label":"c"},
				{"op":"const","dest":"y","type":"int","value":2},
				{"op":"print","args":["y"]},
				{"op":"ret"}]}]}`,
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseProg(t, tt.src)
			want := runMain(t, p, tt.args)

			report, err := OptimizeProgram(context.Background(), p, Config{Fixpoint: true})
			if err != nil {
				t.Fatalf("optimize: %v", err)
			}
			if report.Errors != 0 {
				t.Fatalf("optimize errors: %d", report.Errors)
			}
			if err := bril.Validate(p); err != nil {
				t.Fatalf("optimized program invalid: %v", err)
			}
			for _, fn := range p.Functions {
				if n := countOps(fn, bril.OpPhi); n != 0 {
					t.Errorf("@%s still carries %d phis", fn.Name, n)
				}
			}
			if got := runMain(t, p, tt.args); got != want {
				t.Errorf("output changed (-want +have):\n%s", diff.Diff(want, got))
			}
		})
	}
}

func TestPipelineIdempotent(t *testing.T) {
	p := parseProg(t, loopSrc)
	pipe := &Pipeline{Passes: DefaultPasses(), Fixpoint: true}
	if _, err := pipe.Run(p.Functions[0]); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := p.Functions[0].Hash()
	if _, err := pipe.Run(p.Functions[0]); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if after := p.Functions[0].Hash(); after != before {
		t.Error("second pipeline run changed a settled function")
	}
}

func TestResolvePasses(t *testing.T) {
	got, err := ResolvePasses([]string{"constprop", "dce"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 2 || got[0].Name != "constprop" || got[1].Name != "dce" {
		t.Errorf("resolved %v", got)
	}
	if _, err := ResolvePasses([]string{"nope"}); err == nil {
		t.Error("unknown pass name accepted")
	}
}

const multiFnSrc = `{"functions":[
	{"name":"main","instrs":[
		{"op":"call","dest":"a","type":"int","funcs":["f1"],"args":[]},
		{"op":"call","dest":"b","type":"int","funcs":["f2"],"args":[]},
		{"op":"add","dest":"s","type":"int","args":["a","b"]},
		{"op":"print","args":["s"]}]},
	{"name":"f1","type":"int","instrs":[
		{"op":"const","dest":"x","type":"int","value":2},
		{"op":"const","dest":"y","type":"int","value":3},
		{"op":"add","dest":"z","type":"int","args":["x","y"]},
		{"op":"ret","args":["z"]}]},
	{"name":"f2","type":"int","instrs":[
		{"op":"const","dest":"x","type":"int","value":10},
		{"op":"const","dest":"dead","type":"int","value":99},
		{"op":"ret","args":["x"]}]}]}`

func TestDriverParallelDeterminism(t *testing.T) {
	run := func(jobs int) []byte {
		p := parseProg(t, multiFnSrc)
		if _, err := OptimizeProgram(context.Background(), p, Config{Fixpoint: true, Jobs: jobs}); err != nil {
			t.Fatalf("optimize jobs=%d: %v", jobs, err)
		}
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}
	serial := run(1)
	parallel := run(8)
	if !bytes.Equal(serial, parallel) {
		t.Error("worker count changed the optimized program")
	}
}

func TestDriverKeepsOriginalOnError(t *testing.T) {
	p := parseProg(t, `{"functions":[
		{"name":"main","instrs":[
			{"op":"const","dest":"x","type":"int","value":1},
			{"op":"const","dest":"dead","type":"int","value":2},
			{"op":"print","args":["x"]}]},
		{"name":"broken","instrs":[
			{"op":"jmp","labels":["nowhere"]}]}]}`)
	brokenLen := len(p.Functions[1].Instrs)

	report, err := OptimizeProgram(context.Background(), p, Config{Fixpoint: true})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if report.Errors != 1 {
		t.Errorf("errors: have %d, want 1", report.Errors)
	}
	if len(p.Functions[1].Instrs) != brokenLen {
		t.Error("failed function was rewritten")
	}
	if len(p.Functions[0].Instrs) >= 3 {
		t.Error("healthy function was not optimized")
	}
}

func TestDriverCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := parseProg(t, multiFnSrc)
	if _, err := OptimizeProgram(ctx, p, Config{}); err == nil {
		t.Error("cancelled context not reported")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache := NewCache(16, memorydb.New())
	cfgOpt := Config{Fixpoint: true, Cache: cache}

	p := parseProg(t, multiFnSrc)
	report, err := OptimizeProgram(context.Background(), p, cfgOpt)
	if err != nil {
		t.Fatalf("first optimize: %v", err)
	}
	if report.CacheHits != 0 {
		t.Errorf("cold cache reported %d hits", report.CacheHits)
	}

	p2 := parseProg(t, multiFnSrc)
	report, err = OptimizeProgram(context.Background(), p2, cfgOpt)
	if err != nil {
		t.Fatalf("second optimize: %v", err)
	}
	if report.CacheHits != len(p2.Functions) {
		t.Errorf("warm cache hits: have %d, want %d", report.CacheHits, len(p2.Functions))
	}
	a, _ := json.Marshal(p)
	b, _ := json.Marshal(p2)
	if !bytes.Equal(a, b) {
		t.Error("cached result differs from computed result")
	}
}

func TestCacheSurvivesMemoryEviction(t *testing.T) {
	disk := memorydb.New()
	cache := NewCache(16, disk)
	cfgOpt := Config{Fixpoint: true, Cache: cache}

	p := parseProg(t, multiFnSrc)
	if _, err := OptimizeProgram(context.Background(), p, cfgOpt); err != nil {
		t.Fatalf("optimize: %v", err)
	}
	cache.Purge()

	p2 := parseProg(t, multiFnSrc)
	report, err := OptimizeProgram(context.Background(), p2, cfgOpt)
	if err != nil {
		t.Fatalf("optimize after purge: %v", err)
	}
	if report.CacheHits != len(p2.Functions) {
		t.Errorf("disk hits after purge: have %d, want %d", report.CacheHits, len(p2.Functions))
	}
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	disk := memorydb.New()
	cache := NewCache(16, disk)

	p := parseProg(t, multiFnSrc)
	key, err := CacheKey(p.Functions[0], DefaultPasses())
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if err := disk.Put(diskKey(key), []byte("garbage")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if fn := cache.Get(key); fn != nil {
		t.Fatal("corrupt entry decoded")
	}
	if has, _ := disk.Has(diskKey(key)); has {
		t.Error("corrupt entry not dropped from disk")
	}
}

func TestCacheKeyBindsPipeline(t *testing.T) {
	p := parseProg(t, multiFnSrc)
	fn := p.Functions[0]

	k1, err := CacheKey(fn, ByNames("constprop", "dce"))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	k2, err := CacheKey(fn, ByNames("dce", "constprop"))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k1 == k2 {
		t.Error("pass order did not change the key")
	}
	k3, err := CacheKey(fn, ByNames("constprop", "dce"))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k1 != k3 {
		t.Error("same input produced different keys")
	}
}
