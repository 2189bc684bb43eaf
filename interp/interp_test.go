package interp_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/interp"
)

func parse(t *testing.T, src string) *bril.Program {
	t.Helper()
	p, err := bril.ParseProgram([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return p
}

func runMain(t *testing.T, src string, args ...bril.Literal) (string, *bril.Literal, error) {
	t.Helper()
	var out bytes.Buffer
	ret, err := interp.Run(parse(t, src), "main", args, &out)
	return out.String(), ret, err
}

func TestArithmeticAndPrint(t *testing.T) {
	src := `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"a","type":"int","value":7},
		{"op":"const","dest":"b","type":"int","value":3},
		{"op":"add","dest":"sum","type":"int","args":["a","b"]},
		{"op":"mul","dest":"prod","type":"int","args":["sum","b"]},
		{"op":"lt","dest":"cmp","type":"bool","args":["a","b"]},
		{"op":"print","args":["sum","prod","cmp"]}
	]}]}`
	out, ret, err := runMain(t, src)
	if err != nil {
		t.Fatal(err)
	}
	if ret != nil {
		t.Fatalf("void main returned %v", ret)
	}
	if want := "10 30 false\n"; out != want {
		t.Fatalf("output %q, want %q", out, want)
	}
}

func TestBranchAndLoop(t *testing.T) {
	src := `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"i","type":"int","value":0},
		{"op":"const","dest":"n","type":"int","value":5},
		{"op":"const","dest":"one","type":"int","value":1},
		{"label":"loop"},
		{"op":"lt","dest":"cond","type":"bool","args":["i","n"]},
		{"op":"br","args":["cond"],"labels":["body","done"]},
		{"label":"body"},
		{"op":"add","dest":"i","type":"int","args":["i","one"]},
		{"op":"jmp","labels":["loop"]},
		{"label":"done"},
		{"op":"print","args":["i"]}
	]}]}`
	out, _, err := runMain(t, src)
	if err != nil {
		t.Fatal(err)
	}
	if want := "5\n"; out != want {
		t.Fatalf("output %q, want %q", out, want)
	}
}

func TestPhiSelectsPreviousBlock(t *testing.T) {
	src := `{"functions":[{"name":"main","args":[{"name":"flag","type":"bool"}],"instrs":[
		{"op":"br","args":["flag"],"labels":["t","f"]},
		{"label":"t"},
		{"op":"const","dest":"x.1","type":"int","value":1},
		{"op":"jmp","labels":["join"]},
		{"label":"f"},
		{"op":"const","dest":"x.2","type":"int","value":2},
		{"op":"jmp","labels":["join"]},
		{"label":"join"},
		{"op":"phi","dest":"x.3","type":"int","args":["x.1","x.2"],"labels":["t","f"]},
		{"op":"print","args":["x.3"]}
	]}]}`
	for _, tc := range []struct {
		flag bool
		want string
	}{
		{true, "1\n"},
		{false, "2\n"},
	} {
		out, _, err := runMain(t, src, bril.BoolLit(tc.flag))
		if err != nil {
			t.Fatal(err)
		}
		if out != tc.want {
			t.Fatalf("flag=%v: output %q, want %q", tc.flag, out, tc.want)
		}
	}
}

// Two phis at a loop head that read each other must see the values from the
// previous iteration, not the updates made moments earlier in the same head.
func TestPhiSwapIsParallel(t *testing.T) {
	src := `{"functions":[{"name":"main","instrs":[
		{"label":"start"},
		{"op":"const","dest":"a.0","type":"int","value":1},
		{"op":"const","dest":"b.0","type":"int","value":2},
		{"op":"const","dest":"i","type":"int","value":0},
		{"op":"const","dest":"one","type":"int","value":1},
		{"op":"const","dest":"limit","type":"int","value":2},
		{"label":"loop"},
		{"op":"phi","dest":"a.1","type":"int","args":["a.0","b.1"],"labels":["start","loop"]},
		{"op":"phi","dest":"b.1","type":"int","args":["b.0","a.1"],"labels":["start","loop"]},
		{"op":"add","dest":"i","type":"int","args":["i","one"]},
		{"op":"lt","dest":"cond","type":"bool","args":["i","limit"]},
		{"op":"br","args":["cond"],"labels":["loop","done"]},
		{"label":"done"},
		{"op":"print","args":["a.1","b.1"]}
	]}]}`
	out, _, err := runMain(t, src)
	if err != nil {
		t.Fatal(err)
	}
	if want := "2 1\n"; out != want {
		t.Fatalf("output %q, want %q", out, want)
	}
}

func TestCallAndRecursion(t *testing.T) {
	src := `{"functions":[
		{"name":"main","instrs":[
			{"op":"const","dest":"n","type":"int","value":5},
			{"op":"call","dest":"r","type":"int","funcs":["fact"],"args":["n"]},
			{"op":"print","args":["r"]}
		]},
		{"name":"fact","args":[{"name":"n","type":"int"}],"type":"int","instrs":[
			{"op":"const","dest":"one","type":"int","value":1},
			{"op":"le","dest":"base","type":"bool","args":["n","one"]},
			{"op":"br","args":["base"],"labels":["ret1","rec"]},
			{"label":"ret1"},
			{"op":"ret","args":["one"]},
			{"label":"rec"},
			{"op":"sub","dest":"m","type":"int","args":["n","one"]},
			{"op":"call","dest":"r","type":"int","funcs":["fact"],"args":["m"]},
			{"op":"mul","dest":"out","type":"int","args":["n","r"]},
			{"op":"ret","args":["out"]}
		]}
	]}`
	out, _, err := runMain(t, src)
	if err != nil {
		t.Fatal(err)
	}
	if want := "120\n"; out != want {
		t.Fatalf("output %q, want %q", out, want)
	}

	// Calling a non-void function directly returns its value.
	var buf bytes.Buffer
	ret, err := interp.Run(parse(t, src), "fact", []bril.Literal{bril.IntLit(6)}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if ret == nil || ret.Kind != bril.LitInt || ret.Int != 720 {
		t.Fatalf("fact(6) = %v, want 720", ret)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	src := `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"n","type":"int","value":3},
		{"op":"const","dest":"one","type":"int","value":1},
		{"op":"const","dest":"v","type":"int","value":42},
		{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["n"]},
		{"op":"ptradd","dest":"q","type":{"ptr":"int"},"args":["p","one"]},
		{"op":"store","args":["q","v"]},
		{"op":"load","dest":"got","type":"int","args":["q"]},
		{"op":"print","args":["got"]},
		{"op":"free","args":["p"]}
	]}]}`
	p := parse(t, src)
	var out bytes.Buffer
	in := interp.New(p, &out)
	if _, err := in.Run("main", nil); err != nil {
		t.Fatal(err)
	}
	if want := "42\n"; out.String() != want {
		t.Fatalf("output %q, want %q", out.String(), want)
	}
	if n := in.Leaks(); n != 0 {
		t.Fatalf("Leaks() = %d, want 0", n)
	}
}

func TestMemoryErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{
			name: "double free",
			src: `{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"n","type":"int","value":1},
				{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["n"]},
				{"op":"free","args":["p"]},
				{"op":"free","args":["p"]}
			]}]}`,
			want: interp.ErrDoubleFree,
		},
		{
			name: "load after free",
			src: `{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"n","type":"int","value":1},
				{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["n"]},
				{"op":"free","args":["p"]},
				{"op":"load","dest":"v","type":"int","args":["p"]}
			]}]}`,
			want: interp.ErrUseAfterFree,
		},
		{
			name: "store out of bounds",
			src: `{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"n","type":"int","value":3},
				{"op":"const","dest":"five","type":"int","value":5},
				{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["n"]},
				{"op":"ptradd","dest":"q","type":{"ptr":"int"},"args":["p","five"]},
				{"op":"store","args":["q","five"]}
			]}]}`,
			want: interp.ErrOutOfBounds,
		},
		{
			name: "load uninitialized",
			src: `{"functions":[{"name":"main","instrs":[
				{"op":"const","dest":"n","type":"int","value":1},
				{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["n"]},
				{"op":"load","dest":"v","type":"int","args":["p"]}
			]}]}`,
			want: interp.ErrUndefinedValue,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := runMain(t, tc.src)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLeaksCounted(t *testing.T) {
	src := `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"n","type":"int","value":2},
		{"op":"alloc","dest":"p","type":{"ptr":"int"},"args":["n"]},
		{"op":"alloc","dest":"q","type":{"ptr":"int"},"args":["n"]},
		{"op":"free","args":["q"]}
	]}]}`
	in := interp.New(parse(t, src), nil)
	if _, err := in.Run("main", nil); err != nil {
		t.Fatal(err)
	}
	if n := in.Leaks(); n != 1 {
		t.Fatalf("Leaks() = %d, want 1", n)
	}
}

func TestDivisionByZero(t *testing.T) {
	src := `{"functions":[{"name":"main","instrs":[
		{"op":"const","dest":"a","type":"int","value":1},
		{"op":"const","dest":"z","type":"int","value":0},
		{"op":"div","dest":"d","type":"int","args":["a","z"]}
	]}]}`
	_, _, err := runMain(t, src)
	if !errors.Is(err, interp.ErrDivisionByZero) {
		t.Fatalf("err = %v, want %v", err, interp.ErrDivisionByZero)
	}
}

func TestUndefinedPhiSlot(t *testing.T) {
	// Selecting an undefined slot faults only when the value is read.
	src := `{"functions":[{"name":"main","instrs":[
		{"label":"entry"},
		{"op":"jmp","labels":["join"]},
		{"label":"join"},
		{"op":"phi","dest":"x","type":"int","args":["__undefined"],"labels":["entry"]},
		{"op":"print","args":["x"]}
	]}]}`
	_, _, err := runMain(t, src)
	if !errors.Is(err, interp.ErrUndefinedValue) {
		t.Fatalf("err = %v, want %v", err, interp.ErrUndefinedValue)
	}

	unread := `{"functions":[{"name":"main","instrs":[
		{"label":"top"},
		{"op":"const","dest":"ok","type":"int","value":1},
		{"label":"join"},
		{"op":"phi","dest":"x","type":"int","args":["__undefined"],"labels":["top"]},
		{"op":"print","args":["ok"]}
	]}]}`
	out, _, err := runMain(t, unread)
	if err != nil {
		t.Fatalf("unread slot faulted: %v", err)
	}
	if want := "1\n"; out != want {
		t.Fatalf("output %q, want %q", out, want)
	}
}

func TestStepBudget(t *testing.T) {
	src := `{"functions":[{"name":"main","instrs":[
		{"label":"loop"},
		{"op":"jmp","labels":["loop"]}
	]}]}`
	in := interp.New(parse(t, src), nil)
	in.MaxSteps = 100
	_, err := in.Run("main", nil)
	if !errors.Is(err, interp.ErrStepBudget) {
		t.Fatalf("err = %v, want %v", err, interp.ErrStepBudget)
	}
	if in.Steps() <= 100 {
		// The budget trips strictly after the limit is crossed.
		t.Fatalf("Steps() = %d, want > 100", in.Steps())
	}
}

func TestSpeculationRejected(t *testing.T) {
	src := `{"functions":[{"name":"main","instrs":[
		{"op":"speculate"}
	]}]}`
	_, _, err := runMain(t, src)
	if !errors.Is(err, interp.ErrUnsupportedOp) {
		t.Fatalf("err = %v, want %v", err, interp.ErrUnsupportedOp)
	}
}

func TestArgumentChecking(t *testing.T) {
	src := `{"functions":[{"name":"main","args":[{"name":"n","type":"int"}],"instrs":[
		{"op":"print","args":["n"]}
	]}]}`
	p := parse(t, src)

	if _, err := interp.Run(p, "missing", nil, nil); !errors.Is(err, interp.ErrUnknownFunction) {
		t.Fatalf("err = %v, want %v", err, interp.ErrUnknownFunction)
	}
	if _, err := interp.Run(p, "main", nil, nil); err == nil {
		t.Fatal("arity mismatch not rejected")
	}
	if _, err := interp.Run(p, "main", []bril.Literal{bril.BoolLit(true)}, nil); err == nil {
		t.Fatal("type mismatch not rejected")
	}
}
