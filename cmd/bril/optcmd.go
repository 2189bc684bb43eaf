package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/cmd/utils"
	"github.com/brilang/go-bril/common"
	"github.com/brilang/go-bril/internal/flags"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/opt"
)

var (
	statsFlag = &cli.BoolFlag{
		Name:     "stats",
		Usage:    "Print a per-pass summary table once optimization finishes",
		Category: flags.PipelineCategory,
	}

	optCommand = &cli.Command{
		Action:    optimize,
		Name:      "opt",
		Usage:     "Run the optimization pipeline over Bril programs",
		ArgsUsage: "<program.json> [program.json ...]",
		Flags: flags.Merge([]cli.Flag{
			statsFlag,
			configFileFlag,
		}, utils.GroupFlags),
		Description: `
The opt command parses every argument as a Bril JSON program, runs the
configured pass pipeline over it and writes the optimized program back out.

Passing "-", or no argument at all, reads the program from standard input.
With several inputs the programs are optimized concurrently and written in
argument order; --out is only meaningful for a single input.

The pipeline defaults to the standard pass order. Use --passes with any of

   ` + fmt.Sprint(opt.PassNames()) + `

to run a custom one, and --fixpoint to repeat it until the program settles.`,
	}

	statsCommand = &cli.Command{
		Action:    programStats,
		Name:      "stats",
		Usage:     "Print summary statistics about a Bril program",
		ArgsUsage: "<program.json>",
		Description: `
The stats command parses a Bril JSON program and prints its shape: blocks and
instructions per function plus an opcode frequency table. It never modifies
the program, so it is handy for eyeballing what a pipeline did:

    bril opt prog.json | bril stats`,
	}
)

// optimize is the entry point of the opt command.
func optimize(ctx *cli.Context) error {
	applyConfigFile(ctx)

	paths := ctx.Args().Slice()
	if len(paths) == 0 {
		paths = []string{"-"}
	}
	if len(paths) > 1 && ctx.IsSet(utils.OutputFlag.Name) {
		utils.Fatalf("--%s cannot be combined with multiple inputs", utils.OutputFlag.Name)
	}
	cfg := utils.MakeOptConfig(ctx)

	// Parse everything up front so a typo in the last argument does not waste
	// an optimization run on the first.
	progs := make([]*bril.Program, len(paths))
	for i, path := range paths {
		p, err := loadProgram(path)
		if err != nil {
			return err
		}
		progs[i] = p
	}
	var (
		start   = time.Now()
		reports = make([]*opt.Report, len(paths))
	)
	group, gctx := errgroup.WithContext(ctx.Context)
	for i := range progs {
		i := i
		group.Go(func() error {
			report, err := opt.OptimizeProgram(gctx, progs[i], cfg)
			reports[i] = report
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	for _, p := range progs {
		if err := writeProgram(ctx, p); err != nil {
			return err
		}
	}
	var functions, hits, failures int
	for _, r := range reports {
		functions += r.Functions
		hits += r.CacheHits
		failures += r.Errors
	}
	log.Info("Optimization finished", "programs", len(progs), "functions", functions,
		"cachehits", hits, "failures", failures, "elapsed", common.PrettyDuration(time.Since(start)))

	if ctx.Bool(statsFlag.Name) {
		showPassStats(reports)
	}
	return nil
}

// showPassStats renders the per-pass counters aggregated over every optimized
// program. All reports come from the same pipeline, so their stat slices are
// parallel.
func showPassStats(reports []*opt.Report) {
	stats := append([]opt.PassStat(nil), reports[0].Passes...)
	for _, r := range reports[1:] {
		for i, s := range r.Passes {
			stats[i].Runs += s.Runs
			stats[i].Changed += s.Changed
			stats[i].Elapsed += s.Elapsed
		}
	}
	var (
		totalRuns    int
		totalChanged int
		totalElapsed time.Duration
	)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Pass", "Runs", "Changed", "Elapsed"})
	for _, s := range stats {
		table.Append([]string{
			s.Name,
			strconv.Itoa(s.Runs),
			strconv.Itoa(s.Changed),
			common.PrettyDuration(s.Elapsed).String(),
		})
		totalRuns += s.Runs
		totalChanged += s.Changed
		totalElapsed += s.Elapsed
	}
	table.SetFooter([]string{"Total", strconv.Itoa(totalRuns), strconv.Itoa(totalChanged),
		common.PrettyDuration(totalElapsed).String()})
	table.Render()
}

// programStats is the entry point of the stats command.
func programStats(ctx *cli.Context) error {
	if ctx.NArg() > 1 {
		return fmt.Errorf("required arguments: %v", ctx.Command.ArgsUsage)
	}
	p, err := loadProgram(ctx.Args().First())
	if err != nil {
		return err
	}
	var (
		totalBlocks  int
		totalInstrs  int
		opcodeCounts = make(map[string]int)
		rows         [][]string
	)
	for _, fn := range p.Functions {
		g, err := cfg.Build(fn)
		if err != nil {
			return fmt.Errorf("%s: %v", fn.Name, err)
		}
		instrs := 0
		for _, in := range fn.Instrs {
			switch in := in.(type) {
			case *bril.Label:
				continue
			case *bril.Const:
				opcodeCounts["const"]++
			case *bril.Op:
				opcodeCounts[in.Opcode.String()]++
			}
			instrs++
		}
		rows = append(rows, []string{
			"@" + fn.Name,
			strconv.Itoa(len(fn.Args)),
			strconv.Itoa(g.Len()),
			strconv.Itoa(instrs),
		})
		totalBlocks += g.Len()
		totalInstrs += instrs
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Function", "Args", "Blocks", "Instrs"})
	table.AppendBulk(rows)
	table.SetFooter([]string{fmt.Sprintf("%d functions", len(p.Functions)), "",
		strconv.Itoa(totalBlocks), strconv.Itoa(totalInstrs)})
	table.Render()

	names := make([]string, 0, len(opcodeCounts))
	for name := range opcodeCounts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if opcodeCounts[names[i]] != opcodeCounts[names[j]] {
			return opcodeCounts[names[i]] > opcodeCounts[names[j]]
		}
		return names[i] < names[j]
	})
	table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Opcode", "Count", "Share"})
	for _, name := range names {
		share := float64(opcodeCounts[name]) / float64(totalInstrs) * 100
		table.Append([]string{name, strconv.Itoa(opcodeCounts[name]), fmt.Sprintf("%.2f%%", share)})
	}
	table.Render()
	return nil
}
