// bril is a command line tool for optimizing, analyzing and running Bril
// programs.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/brilang/go-bril/cmd/utils"
	"github.com/brilang/go-bril/internal/debug"
	"github.com/brilang/go-bril/internal/flags"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
)

const clientIdentifier = "bril"

// app is the main bril command line application.
var app = flags.NewApp("the Bril optimizer command line interface")

var metricsFlags = []cli.Flag{
	utils.MetricsEnabledFlag,
}

func init() {
	app.Name = clientIdentifier
	app.Commands = []*cli.Command{
		optCommand,
		ssaCommand,
		cfgCommand,
		analyzeCommand,
		runCommand,
		statsCommand,
		cacheCommand,
		consoleCommand,
		dumpConfigCommand,
		versionCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))
	app.Flags = flags.Merge(debug.Flags, metricsFlags)

	app.Before = func(ctx *cli.Context) error {
		maxprocs.Set() // Automatically set GOMAXPROCS to match Linux container CPU quota.
		flags.MigrateGlobalFlags(ctx)
		if err := debug.Setup(ctx); err != nil {
			return err
		}
		utils.SetupMetrics(ctx)
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
