package opt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/common"
	"github.com/brilang/go-bril/common/gopool"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/metrics"
)

var (
	functionsMeter = metrics.NewRegisteredMeter("opt/driver/functions", nil)
	failuresMeter  = metrics.NewRegisteredMeter("opt/driver/failures", nil)
	driverTimer    = metrics.NewRegisteredTimer("opt/driver/time", nil)
	pipelineLabel  = metrics.NewRegisteredLabel("opt/driver/pipeline", nil)

	// Per-function debug lines are sampled so batch runs over large suites
	// stay readable.
	optimizedLog = &log.EveryN{N: 32}
)

// Config parameterizes one driver run.
type Config struct {
	Passes    []Pass // pipeline to run, DefaultPasses when empty
	Fixpoint  bool   // repeat the pipeline until the body settles
	MaxRounds int    // fixpoint round cap, defaultMaxRounds when zero
	Jobs      int    // worker pool size, 0 keeps the current size
	Cache     *Cache // nil disables artifact caching
}

// Report summarizes one driver run. Passes is parallel to the configured
// pipeline, aggregated over all optimized functions.
type Report struct {
	Functions int
	CacheHits int
	Errors    int
	Elapsed   time.Duration
	Passes    []PassStat
}

// OptimizeProgram runs the configured pipeline over every function of p,
// replacing each with its optimized form. Functions are independent, so they
// are optimized concurrently; a function that fails validation or a pass
// keeps its original body and is counted in the report rather than failing
// the program. The returned error is non-nil only when ctx ended the run
// early.
func OptimizeProgram(ctx context.Context, p *bril.Program, cfg Config) (*Report, error) {
	start := time.Now()
	defer driverTimer.UpdateSince(start)

	passes := cfg.Passes
	if len(passes) == 0 {
		passes = DefaultPasses()
	}
	if cfg.Jobs > 0 {
		gopool.Tune(cfg.Jobs)
	}
	names := make([]string, len(passes))
	for i, pass := range passes {
		names[i] = pass.Name
	}
	pipelineLabel.Mark(metrics.LabelValue{
		"passes":   strings.Join(names, ","),
		"fixpoint": cfg.Fixpoint,
		"jobs":     cfg.Jobs,
	})

	var (
		wg    sync.WaitGroup
		outs  = make([]*bril.Function, len(p.Functions))
		hits  = make([]bool, len(p.Functions))
		stats = make([][]PassStat, len(p.Functions))
		errs  = make([]error, len(p.Functions))
	)
	for i := range p.Functions {
		i := i
		fn := p.Functions[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outs[i], hits[i], stats[i], errs[i] = optimizeFunction(ctx, fn, passes, cfg)
		}
		if err := gopool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	report := &Report{Functions: len(p.Functions), Passes: make([]PassStat, len(passes))}
	for i := range report.Passes {
		report.Passes[i].Name = passes[i].Name
	}
	for i := range p.Functions {
		if err := errs[i]; err != nil {
			report.Errors++
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				log.Error("Function optimization failed", "func", p.Functions[i].Name, "err", err)
			}
			continue
		}
		if hits[i] {
			report.CacheHits++
		}
		p.Functions[i] = outs[i]
		for j, s := range stats[i] {
			report.Passes[j].Runs += s.Runs
			report.Passes[j].Changed += s.Changed
			report.Passes[j].Elapsed += s.Elapsed
		}
	}
	report.Elapsed = time.Since(start)
	functionsMeter.Mark(int64(report.Functions))
	failuresMeter.Mark(int64(report.Errors))
	return report, ctx.Err()
}

// optimizeFunction runs the pipeline over a copy of fn, going through the
// cache when one is configured. The input function is never mutated; errors
// leave the caller holding the original.
func optimizeFunction(ctx context.Context, fn *bril.Function, passes []Pass, cfg Config) (*bril.Function, bool, []PassStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, nil, err
	}
	if err := bril.ValidateFunction(fn); err != nil {
		return nil, false, nil, err
	}

	var (
		key     common.Hash
		haveKey bool
	)
	if cfg.Cache != nil {
		k, err := CacheKey(fn, passes)
		if err == nil {
			key, haveKey = k, true
			if hit := cfg.Cache.Get(key); hit != nil {
				return hit, true, nil, nil
			}
		}
	}

	start := time.Now()
	out := fn.Copy()
	pipe := &Pipeline{Passes: passes, Fixpoint: cfg.Fixpoint, MaxRounds: cfg.MaxRounds}
	stats, err := pipe.Run(out)
	if err != nil {
		return nil, false, stats, err
	}
	log.DebugBy(optimizedLog, "Optimized function", "func", fn.Name, "elapsed", time.Since(start))

	if cfg.Cache != nil && haveKey {
		if err := cfg.Cache.Put(key, out); err != nil {
			log.Debug("Failed to store cache entry", "func", fn.Name, "err", err)
		}
	}
	return out, false, stats, nil
}
