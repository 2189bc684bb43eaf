// Package utils contains internal helper functions for bril commands.
package utils

import (
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	godebug "runtime/debug"
	"strconv"
	"strings"

	"github.com/brilang/go-bril/brildb"
	"github.com/brilang/go-bril/brildb/bboltdb"
	"github.com/brilang/go-bril/brildb/memorydb"
	"github.com/brilang/go-bril/brildb/pebbledb"
	"github.com/brilang/go-bril/internal/flags"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/metrics"
	"github.com/brilang/go-bril/opt"
	gopsutil "github.com/shirou/gopsutil/mem"
	"github.com/urfave/cli/v2"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// Pipeline settings
	PassesFlag = &cli.StringFlag{
		Name:     "passes",
		Usage:    "Comma separated pass list to run in order (default = the standard pipeline)",
		Category: flags.PipelineCategory,
	}
	FixpointFlag = &cli.BoolFlag{
		Name:     "fixpoint",
		Usage:    "Repeat the pass list until the program stops changing",
		Category: flags.PipelineCategory,
	}
	MaxRoundsFlag = &cli.IntFlag{
		Name:     "max-rounds",
		Usage:    "Cap on fixpoint rounds (0 = built-in default)",
		Category: flags.PipelineCategory,
	}

	// Performance tuning settings
	JobsFlag = &cli.IntFlag{
		Name:     "jobs",
		Usage:    "Number of functions optimized concurrently (0 = number of CPUs)",
		Category: flags.PerfCategory,
	}
	CacheFlag = &cli.IntFlag{
		Name:     "cache",
		Usage:    "Megabytes of memory allocated to the in-memory artifact cache",
		Value:    256,
		Category: flags.PerfCategory,
	}

	// Artifact cache settings
	CacheDisabledFlag = &cli.BoolFlag{
		Name:     "cache.disable",
		Usage:    "Disable the optimization artifact cache entirely",
		Category: flags.CacheCategory,
	}
	CacheDirFlag = &cli.StringFlag{
		Name:     "cachedir",
		Usage:    "Directory for the persistent artifact cache (default = memory only)",
		Category: flags.CacheCategory,
	}
	CacheEngineFlag = &cli.StringFlag{
		Name:     "cache.engine",
		Usage:    "Backing database implementation to use ('pebble' or 'bbolt')",
		Value:    "pebble",
		Category: flags.CacheCategory,
	}

	// Input/output settings
	TextFlag = &cli.BoolFlag{
		Name:     "text",
		Usage:    "Write programs in the textual form instead of JSON",
		Category: flags.OutputCategory,
	}
	OutputFlag = &cli.StringFlag{
		Name:     "out",
		Aliases:  []string{"o"},
		Usage:    "Write output to the given file instead of stdout",
		Category: flags.OutputCategory,
	}

	// Metrics settings
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection and reporting",
		Category: flags.MetricsCategory,
	}
)

// GroupFlags collects the flags every program-transforming command takes.
var GroupFlags = []cli.Flag{
	PassesFlag,
	FixpointFlag,
	MaxRoundsFlag,
	JobsFlag,
	CacheFlag,
	CacheDisabledFlag,
	CacheDirFlag,
	CacheEngineFlag,
	TextFlag,
	OutputFlag,
	MetricsEnabledFlag,
}

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// CheckExclusive verifies that only a single instance of the provided flags was
// set by the user. Each flag might optionally be followed by a string type to
// specialize it further.
func CheckExclusive(ctx *cli.Context, args ...interface{}) {
	set := make([]string, 0, 1)
	for i := 0; i < len(args); i++ {
		// Make sure the next argument is a flag and skip if not set
		flag, ok := args[i].(cli.Flag)
		if !ok {
			panic(fmt.Sprintf("invalid argument, not cli.Flag type: %T", args[i]))
		}
		// Check if next arg extends current and expand its name if so
		name := flag.Names()[0]

		if i+1 < len(args) {
			switch option := args[i+1].(type) {
			case string:
				// Extended flag check, make sure value set doesn't conflict with passed in option
				if ctx.String(flag.Names()[0]) == option {
					name += "=" + option
					set = append(set, "--"+name)
				}
				// shift arguments and continue
				i++
				continue

			case cli.Flag:
			default:
				panic(fmt.Sprintf("invalid argument, not cli.Flag or string extension: %T", args[i+1]))
			}
		}
		// Mark the flag if it's set
		if ctx.IsSet(flag.Names()[0]) {
			set = append(set, "--"+name)
		}
	}
	if len(set) > 1 {
		Fatalf("Flags %v can't be used at the same time", strings.Join(set, ", "))
	}
}

// SplitAndTrim splits input separated by a comma
// and trims excessive white space from the substrings.
func SplitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

// MakeOptConfig assembles the driver configuration from the CLI flags. The
// cache allowance is capped against the machine's memory and the GC trigger
// tuned to leave the cache out of its accounting.
func MakeOptConfig(ctx *cli.Context) opt.Config {
	cfg := opt.Config{
		Fixpoint:  ctx.Bool(FixpointFlag.Name),
		MaxRounds: ctx.Int(MaxRoundsFlag.Name),
		Jobs:      ctx.Int(JobsFlag.Name),
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = runtime.NumCPU()
	}
	if ctx.IsSet(PassesFlag.Name) {
		passes, err := opt.ResolvePasses(SplitAndTrim(ctx.String(PassesFlag.Name)))
		if err != nil {
			Fatalf("Invalid --%s: %v", PassesFlag.Name, err)
		}
		cfg.Passes = passes
	}
	if !ctx.Bool(CacheDisabledFlag.Name) {
		cfg.Cache = MakeArtifactCache(ctx)
	}
	return cfg
}

// cacheEntryBytes is the nominal size of one cached function body, used to
// translate the --cache megabyte allowance into an entry count.
const cacheEntryBytes = 4096

// databaseHandles is the file descriptor allowance handed to the pebble
// backend. Artifact stores stay small, so a flat figure is plenty.
const databaseHandles = 128

// MakeArtifactCache builds the two-level artifact cache from the CLI flags,
// opening the persistent layer when --cachedir is set.
func MakeArtifactCache(ctx *cli.Context) *opt.Cache {
	// Cap the cache allowance and tune the garbage collector
	mem, err := gopsutil.VirtualMemory()
	if err == nil {
		if 32<<(^uintptr(0)>>63) == 32 && mem.Total > 2*1024*1024*1024 {
			log.Warn("Lowering memory allowance on 32bit arch", "available", mem.Total/1024/1024, "addressable", 2*1024)
			mem.Total = 2 * 1024 * 1024 * 1024
		}
		allowance := int(mem.Total / 1024 / 1024 / 3)
		if cache := ctx.Int(CacheFlag.Name); cache > allowance {
			log.Warn("Sanitizing cache to Go's GC limits", "provided", cache, "updated", allowance)
			ctx.Set(CacheFlag.Name, strconv.Itoa(allowance))
		}
	}
	// Ensure Go's GC ignores the artifact cache for trigger percentage
	cache := ctx.Int(CacheFlag.Name)
	gogc := math.Max(20, math.Min(100, 100/(float64(cache)/1024)))

	log.Debug("Sanitizing Go's GC trigger", "percent", int(gogc))
	godebug.SetGCPercent(int(gogc))

	entries := cache * 1024 * 1024 / cacheEntryBytes
	return opt.NewCache(entries, MakeCacheDatabase(ctx, false))
}

// MakeCacheDatabase opens the persistent cache store named by --cachedir, or
// returns nil when the cache is memory only.
func MakeCacheDatabase(ctx *cli.Context, readonly bool) brildb.KeyValueStore {
	dir := ctx.String(CacheDirFlag.Name)
	if dir == "" {
		return nil
	}
	var (
		db  brildb.KeyValueStore
		err error
	)
	switch engine := ctx.String(CacheEngineFlag.Name); engine {
	case "pebble":
		db, err = pebbledb.New(dir, ctx.Int(CacheFlag.Name), databaseHandles, "bril/cache", readonly)
	case "bbolt":
		db, err = bboltdb.New(dir, readonly, false)
	case "memory":
		// Useful for tests that want the full cache path without disk.
		db = memorydb.New()
	default:
		Fatalf("Unknown --%s: %q (use 'pebble' or 'bbolt')", CacheEngineFlag.Name, engine)
	}
	if err != nil {
		Fatalf("Could not open artifact cache at %s: %v", dir, err)
	}
	log.Info("Opened artifact cache", "dir", dir, "engine", ctx.String(CacheEngineFlag.Name))
	return db
}

// SetupMetrics turns on metrics collection when requested. The command line
// and environment were already scanned by the metrics package during init;
// this runs after the log handler is installed so the enablement is visible.
func SetupMetrics(ctx *cli.Context) {
	if ctx.Bool(MetricsEnabledFlag.Name) {
		metrics.Enabled = true
	}
	if metrics.Enabled {
		log.Info("Enabling metrics collection")
	}
}
