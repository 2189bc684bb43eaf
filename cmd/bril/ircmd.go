package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/cmd/utils"
	"github.com/brilang/go-bril/common"
	"github.com/brilang/go-bril/dataflow"
	"github.com/brilang/go-bril/internal/flags"
	"github.com/brilang/go-bril/interp"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/ssa"
)

var (
	checkFlag = &cli.BoolFlag{
		Name:     "check",
		Usage:    "Verify the dominance and single-definition properties after conversion",
		Category: flags.PipelineCategory,
	}
	roundTripFlag = &cli.BoolFlag{
		Name:     "round-trip",
		Usage:    "Deconstruct the program again after converting it to SSA",
		Category: flags.PipelineCategory,
	}
	funcFlag = &cli.StringFlag{
		Name:     "func",
		Usage:    "Restrict the command to the named function (default = all functions)",
		Category: flags.MiscCategory,
	}
	analysisFlag = &cli.StringFlag{
		Name:     "analysis",
		Usage:    "Dataflow analysis to solve ('constants', 'live', 'alias' or 'reachdefs')",
		Value:    "live",
		Category: flags.PipelineCategory,
	}
	entryFlag = &cli.StringFlag{
		Name:     "entry",
		Usage:    "Function to start execution from",
		Value:    "main",
		Category: flags.MiscCategory,
	}

	ssaCommand = &cli.Command{
		Action:    convertSSA,
		Name:      "ssa",
		Usage:     "Convert a Bril program into (or back out of) SSA form",
		ArgsUsage: "<program.json>",
		Flags: []cli.Flag{
			checkFlag,
			roundTripFlag,
			utils.TextFlag,
			utils.OutputFlag,
		},
		Description: `
The ssa command rewrites every function so each variable is assigned exactly
once, placing phi instructions at the join points that need them. With
--round-trip the phis are lowered back into copies afterwards, which is the
identity transformation up to renaming and is mostly useful for testing.`,
	}

	cfgCommand = &cli.Command{
		Action:    printCFG,
		Name:      "cfg",
		Usage:     "Print control flow graphs in DOT form",
		ArgsUsage: "<program.json>",
		Flags: []cli.Flag{
			funcFlag,
			utils.OutputFlag,
		},
		Description: `
The cfg command prints one DOT digraph per function, ready for graphviz:

    bril cfg --func main prog.json | dot -Tsvg -o main.svg

See the cfgdraw tool for a rendering frontend with file watching.`,
	}

	analyzeCommand = &cli.Command{
		Action:    analyze,
		Name:      "analyze",
		Usage:     "Solve a dataflow analysis and print the per-block results",
		ArgsUsage: "<program.json>",
		Flags: []cli.Flag{
			analysisFlag,
			funcFlag,
		},
		Description: `
The analyze command solves the selected analysis over each function and
prints the value flowing into and out of every basic block. Nothing is
rewritten; this is a window into what the optimization passes see.`,
	}

	runCommand = &cli.Command{
		Action:    runProgram,
		Name:      "run",
		Usage:     "Interpret a Bril program",
		ArgsUsage: "<program.json> [arg ...]",
		Flags: []cli.Flag{
			entryFlag,
		},
		Description: `
The run command executes a program in the reference interpreter, passing the
remaining arguments to the entry function after parsing them against its
declared parameter types. Output from print instructions goes to stdout; a
value returned by the entry function is printed last.`,
	}
)

// convertSSA is the entry point of the ssa command.
func convertSSA(ctx *cli.Context) error {
	if ctx.NArg() > 1 {
		return fmt.Errorf("required arguments: %v", ctx.Command.ArgsUsage)
	}
	p, err := loadProgram(ctx.Args().First())
	if err != nil {
		return err
	}
	for _, fn := range p.Functions {
		g, err := cfg.Build(fn)
		if err != nil {
			return fmt.Errorf("@%s: %v", fn.Name, err)
		}
		if err := ssa.Convert(g); err != nil {
			return fmt.Errorf("@%s: %v", fn.Name, err)
		}
		if ctx.Bool(checkFlag.Name) {
			if err := ssa.Check(g); err != nil {
				return fmt.Errorf("@%s: %v", fn.Name, err)
			}
		}
		if ctx.Bool(roundTripFlag.Name) {
			if err := ssa.Deconstruct(g); err != nil {
				return fmt.Errorf("@%s: %v", fn.Name, err)
			}
		}
		g.FlattenInto(fn)
	}
	return writeProgram(ctx, p)
}

// printCFG is the entry point of the cfg command.
func printCFG(ctx *cli.Context) error {
	if ctx.NArg() > 1 {
		return fmt.Errorf("required arguments: %v", ctx.Command.ArgsUsage)
	}
	p, err := loadProgram(ctx.Args().First())
	if err != nil {
		return err
	}
	fns, err := selectFunctions(p, ctx.String(funcFlag.Name))
	if err != nil {
		return err
	}
	out := os.Stdout
	if name := ctx.String(utils.OutputFlag.Name); name != "" {
		out, err = os.Create(name)
		if err != nil {
			return err
		}
		defer out.Close()
	}
	for _, fn := range fns {
		g, err := cfg.Build(fn)
		if err != nil {
			return fmt.Errorf("@%s: %v", fn.Name, err)
		}
		if _, err := out.Write(g.Dot(fn.Name)); err != nil {
			return err
		}
	}
	return nil
}

// analyze is the entry point of the analyze command.
func analyze(ctx *cli.Context) error {
	if ctx.NArg() > 1 {
		return fmt.Errorf("required arguments: %v", ctx.Command.ArgsUsage)
	}
	p, err := loadProgram(ctx.Args().First())
	if err != nil {
		return err
	}
	return printAnalysis(p, ctx.String(analysisFlag.Name), ctx.String(funcFlag.Name))
}

// printAnalysis solves the named analysis over the selected functions and
// renders one table of per-block states each. The console shares it.
func printAnalysis(p *bril.Program, analysis, funcFilter string) error {
	fns, err := selectFunctions(p, funcFilter)
	if err != nil {
		return err
	}
	for _, fn := range fns {
		g, err := cfg.Build(fn)
		if err != nil {
			return fmt.Errorf("@%s: %v", fn.Name, err)
		}
		rows, err := solveRows(g, analysis)
		if err != nil {
			return fmt.Errorf("@%s: %v", fn.Name, err)
		}
		fmt.Printf("@%s (%s):\n", fn.Name, analysis)
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Block", "In", "Out"})
		table.SetAutoWrapText(false)
		table.AppendBulk(rows)
		table.Render()
	}
	return nil
}

// solveRows runs the named analysis over g and formats one row per block in
// layout order.
func solveRows(g *cfg.Graph, analysis string) ([][]string, error) {
	switch analysis {
	case "constants":
		res, err := dataflow.Solve[dataflow.ConstMap](g, dataflow.Constants{})
		if err != nil {
			return nil, err
		}
		return formatRows(g, res, formatConsts), nil
	case "live":
		res, err := dataflow.Solve[dataflow.VarSet](g, dataflow.Liveness{})
		if err != nil {
			return nil, err
		}
		return formatRows(g, res, formatVars), nil
	case "alias":
		res, err := dataflow.Solve[dataflow.PtsMap](g, dataflow.NewAlias(g))
		if err != nil {
			return nil, err
		}
		return formatRows(g, res, formatPts), nil
	case "reachdefs":
		res, err := dataflow.Solve[dataflow.DefMap](g, dataflow.Reaching{})
		if err != nil {
			return nil, err
		}
		return formatRows(g, res, func(m dataflow.DefMap) string { return formatDefs(g, m) }), nil
	default:
		return nil, fmt.Errorf("unknown analysis %q", analysis)
	}
}

func formatRows[V any](g *cfg.Graph, res *dataflow.Result[V], format func(V) string) [][]string {
	rows := make([][]string, 0, g.Len())
	for _, b := range g.Blocks {
		rows = append(rows, []string{"." + b.Name, format(res.In[b.ID]), format(res.Out[b.ID])})
	}
	return rows
}

func formatVars(s dataflow.VarSet) string {
	vars := s.ToSlice()
	sort.Strings(vars)
	return strings.Join(vars, ", ")
}

func formatConsts(m dataflow.ConstMap) string {
	parts := make([]string, 0, len(m))
	for name, lit := range m {
		parts = append(parts, name+"="+lit.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func formatPts(m dataflow.PtsMap) string {
	parts := make([]string, 0, len(m))
	for name, locs := range m {
		ids := locs.ToSlice()
		sort.Ints(ids)
		strs := make([]string, len(ids))
		for i, id := range ids {
			if id == dataflow.ExternalLocation {
				strs[i] = "ext"
			} else {
				strs[i] = "a" + strconv.Itoa(id)
			}
		}
		parts = append(parts, name+":{"+strings.Join(strs, " ")+"}")
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func formatDefs(g *cfg.Graph, m dataflow.DefMap) string {
	parts := make([]string, 0, len(m))
	for name, sites := range m {
		defs := sites.ToSlice()
		sort.Slice(defs, func(i, j int) bool {
			if defs[i].Block != defs[j].Block {
				return defs[i].Block < defs[j].Block
			}
			return defs[i].Index < defs[j].Index
		})
		strs := make([]string, len(defs))
		for i, d := range defs {
			if d.Block < 0 {
				strs[i] = "arg" + strconv.Itoa(d.Index)
			} else {
				strs[i] = g.Blocks[d.Block].Name + "." + strconv.Itoa(d.Index)
			}
		}
		parts = append(parts, name+":{"+strings.Join(strs, " ")+"}")
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// runProgram is the entry point of the run command.
func runProgram(ctx *cli.Context) error {
	p, err := loadProgram(ctx.Args().First())
	if err != nil {
		return err
	}
	entry := ctx.String(entryFlag.Name)
	fn := p.Function(entry)
	if fn == nil {
		return fmt.Errorf("no function named %q", entry)
	}
	args, err := parseArgs(fn, ctx.Args().Tail())
	if err != nil {
		return err
	}
	in := interp.New(p, os.Stdout)
	start := time.Now()
	ret, err := in.Run(entry, args)
	if err != nil {
		return err
	}
	if ret != nil {
		fmt.Println(ret)
	}
	if leaks := in.Leaks(); leaks > 0 {
		log.Warn("Program leaked memory", "allocations", leaks)
	}
	log.Debug("Interpretation finished", "steps", in.Steps(), "elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}

// parseArgs converts command line strings into typed literals per the entry
// function's declared parameters.
func parseArgs(fn *bril.Function, raw []string) ([]bril.Literal, error) {
	if len(raw) != len(fn.Args) {
		return nil, fmt.Errorf("@%s takes %d arguments, got %d", fn.Name, len(fn.Args), len(raw))
	}
	args := make([]bril.Literal, len(raw))
	for i, s := range raw {
		switch fn.Args[i].Type.Kind {
		case bril.TypeInt:
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %v", fn.Args[i].Name, err)
			}
			args[i] = bril.IntLit(v)
		case bril.TypeBool:
			v, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %v", fn.Args[i].Name, err)
			}
			args[i] = bril.BoolLit(v)
		default:
			return nil, fmt.Errorf("argument %s: cannot pass a %s value on the command line", fn.Args[i].Name, fn.Args[i].Type)
		}
	}
	return args, nil
}
