// Package opt schedules the transform passes over Bril functions. A pass is a
// named function rewrite; the pipeline runs an ordered list of them, optionally
// repeating the list until the function body stops changing. Pass bodies build
// a fresh CFG, consult the dataflow analyses they need and flatten the rewritten
// graph back into the function, so every pass sees the previous pass's output in
// linear form.
package opt

import (
	"fmt"
	"sort"
	"time"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/log"
)

// Pass is one function-level rewrite. Run reports whether it changed the
// function body; an error leaves the function in an unspecified but still
// well-formed state.
type Pass struct {
	Name string
	Run  func(fn *bril.Function) (bool, error)
}

// passes maps the names the command line accepts to their implementations.
var passes = map[string]Pass{
	"constprop": {Name: "constprop", Run: ConstProp},
	"dce":       {Name: "dce", Run: DeadCode},
	"dse":       {Name: "dse", Run: DeadStores},
	"licm":      {Name: "licm", Run: LICM},
	"ssa":       {Name: "ssa", Run: ToSSA},
	"unssa":     {Name: "unssa", Run: FromSSA},
}

// DefaultPasses returns the standard pipeline. Constant folding and a dead
// code sweep run first so SSA conversion places fewer phis, loop hoisting runs
// on SSA form as it requires, and the post-SSA round cleans up the copies that
// phi removal materializes.
func DefaultPasses() []Pass {
	return ByNames("constprop", "dce", "ssa", "licm", "unssa", "constprop", "dse", "dce")
}

// ByNames resolves pass names in order. Unknown names panic; command line
// input goes through ResolvePasses instead.
func ByNames(names ...string) []Pass {
	out := make([]Pass, len(names))
	for i, name := range names {
		p, ok := passes[name]
		if !ok {
			panic(fmt.Sprintf("opt: unknown pass %q", name))
		}
		out[i] = p
	}
	return out
}

// ResolvePasses is the checked variant of ByNames for user-supplied lists.
func ResolvePasses(names []string) ([]Pass, error) {
	out := make([]Pass, len(names))
	for i, name := range names {
		p, ok := passes[name]
		if !ok {
			return nil, fmt.Errorf("unknown pass %q (have %v)", name, PassNames())
		}
		out[i] = p
	}
	return out, nil
}

// PassNames lists the registered pass names, sorted.
func PassNames() []string {
	names := make([]string, 0, len(passes))
	for name := range passes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultMaxRounds bounds fixpoint pipelines. Each productive round strictly
// shrinks or canonicalizes the function, so real programs settle in two or
// three; the cap only guards against a pass oscillating between two forms.
const defaultMaxRounds = 10

// PassStat accumulates per-slot counters across pipeline rounds.
type PassStat struct {
	Name    string
	Runs    int
	Changed int
	Elapsed time.Duration
}

// Pipeline runs Passes in order over a function. With Fixpoint set the list is
// repeated until a full round leaves the body's hash unchanged, up to MaxRounds
// (defaultMaxRounds when zero). The hash comparison rather than the passes' own
// changed flags decides convergence: ssa and unssa rewrite names on every run,
// so a pipeline containing them never reports a quiet round itself.
type Pipeline struct {
	Passes    []Pass
	Fixpoint  bool
	MaxRounds int
}

// Run executes the pipeline over fn in place. The returned stats are parallel
// to Passes. Hitting the round cap is logged, not an error: the function is
// valid after every completed pass.
func (p *Pipeline) Run(fn *bril.Function) ([]PassStat, error) {
	stats := make([]PassStat, len(p.Passes))
	for i := range p.Passes {
		stats[i].Name = p.Passes[i].Name
	}
	rounds := 1
	if p.Fixpoint {
		rounds = p.MaxRounds
		if rounds <= 0 {
			rounds = defaultMaxRounds
		}
	}
	prev := fn.Hash()
	for round := 0; round < rounds; round++ {
		for i, pass := range p.Passes {
			start := time.Now()
			changed, err := pass.Run(fn)
			stats[i].Runs++
			stats[i].Elapsed += time.Since(start)
			if err != nil {
				return stats, fmt.Errorf("pass %s: %w", pass.Name, err)
			}
			if changed {
				stats[i].Changed++
			}
			log.Trace("Pass finished", "func", fn.Name, "pass", pass.Name, "round", round, "changed", changed)
		}
		if !p.Fixpoint {
			return stats, nil
		}
		cur := fn.Hash()
		if cur == prev {
			return stats, nil
		}
		prev = cur
	}
	log.Warn("Optimization pipeline hit its round cap", "func", fn.Name, "rounds", rounds)
	return stats, nil
}
