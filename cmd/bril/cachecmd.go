package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brilang/go-bril/brildb"
	"github.com/brilang/go-bril/cmd/utils"
	"github.com/brilang/go-bril/common"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/opt"
)

var (
	cacheCommand = &cli.Command{
		Name:      "cache",
		Usage:     "Manage the persistent optimization artifact cache",
		ArgsUsage: "",
		Subcommands: []*cli.Command{
			cacheStatsCmd,
			cachePurgeCmd,
			cacheCompactCmd,
		},
	}
	cacheStatsCmd = &cli.Command{
		Action: cacheStats,
		Name:   "stats",
		Usage:  "Count the persisted artifact entries and their total size",
		Flags: []cli.Flag{
			utils.CacheDirFlag,
			utils.CacheEngineFlag,
		},
		Description: `This command iterates the persistent artifact store and tallies its entries.`,
	}
	cachePurgeCmd = &cli.Command{
		Action: cachePurge,
		Name:   "purge",
		Usage:  "Delete every persisted artifact entry",
		Flags: []cli.Flag{
			utils.CacheDirFlag,
			utils.CacheEngineFlag,
		},
		Description: `
This command deletes the persisted optimization artifacts. The store itself
stays in place; subsequent runs repopulate it. Entries keyed by a hash of the
function body and pipeline can never go stale, so purging is only ever needed
to reclaim disk space.`,
	}
	cacheCompactCmd = &cli.Command{
		Action: cacheCompact,
		Name:   "compact",
		Usage:  "Compact the backing store of the artifact cache",
		Flags: []cli.Flag{
			utils.CacheDirFlag,
			utils.CacheEngineFlag,
		},
		Description: `
This command flattens the backing store, discarding deleted and overwritten
entries. It can take some time on a large cache.`,
	}
)

// openCacheStore opens the store named by --cachedir, which is mandatory for
// the cache subcommands.
func openCacheStore(ctx *cli.Context, readonly bool) brildb.KeyValueStore {
	if ctx.String(utils.CacheDirFlag.Name) == "" {
		utils.Fatalf("--%s is required", utils.CacheDirFlag.Name)
	}
	return utils.MakeCacheDatabase(ctx, readonly)
}

// showStoreStats prints the backend's own counters. Not every backend exposes
// any, so failures only warn.
func showStoreStats(db brildb.KeyValueStater) {
	stats, err := db.Stat("")
	if err != nil {
		log.Warn("Failed to read database stats", "error", err)
		return
	}
	fmt.Println(stats)
}

func cacheStats(ctx *cli.Context) error {
	db := openCacheStore(ctx, true)
	defer db.Close()

	start := time.Now()
	entries, size, err := opt.InspectCache(db)
	if err != nil {
		return err
	}
	log.Info("Inspected artifact cache", "entries", entries, "size", size,
		"elapsed", common.PrettyDuration(time.Since(start)))
	showStoreStats(db)
	return nil
}

func cachePurge(ctx *cli.Context) error {
	db := openCacheStore(ctx, false)
	defer db.Close()

	start := time.Now()
	removed, err := opt.PurgeDisk(db)
	if err != nil {
		return err
	}
	log.Info("Purged artifact cache", "entries", removed, "elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}

func cacheCompact(ctx *cli.Context) error {
	db := openCacheStore(ctx, false)
	defer db.Close()

	log.Info("Stats before compaction")
	showStoreStats(db)

	log.Info("Triggering compaction")
	start := time.Now()
	if err := db.Compact(nil, nil); err != nil {
		log.Error("Compact err", "error", err)
		return err
	}
	log.Info("Stats after compaction", "elapsed", common.PrettyDuration(time.Since(start)))
	showStoreStats(db)
	return nil
}
