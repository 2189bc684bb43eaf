// Package flags holds the CLI flag categories and app plumbing shared by the
// bril commands.
package flags

import (
	"github.com/brilang/go-bril/internal/version"
	"github.com/urfave/cli/v2"
)

// NewApp creates an app with sane defaults.
func NewApp(usage string) *cli.App {
	app := cli.NewApp()
	app.EnableBashCompletion = true
	app.Version = version.WithCommit()
	app.Usage = usage
	app.Before = func(ctx *cli.Context) error {
		MigrateGlobalFlags(ctx)
		return nil
	}
	return app
}

// Merge merges the given flag slices.
func Merge(groups ...[]cli.Flag) []cli.Flag {
	ret := make([]cli.Flag, 0)
	for _, group := range groups {
		ret = append(ret, group...)
	}
	return ret
}

// MigrateGlobalFlags makes all global flag values available in the
// context. This should be called as early as possible in app.Before.
//
// Example:
//
//	bril opt --passes constprop,dce prog.json
//
// is equivalent after calling this method with:
//
//	bril --passes constprop,dce opt prog.json
//
// i.e. in the subcommand Action function of 'opt', ctx.String("passes")
// returns the value even when --passes was given as a global option.
func MigrateGlobalFlags(ctx *cli.Context) {
	var iterate func(cs []*cli.Command, fn func(*cli.Command))
	iterate = func(cs []*cli.Command, fn func(*cli.Command)) {
		for _, cmd := range cs {
			fn(cmd)
			iterate(cmd.Subcommands, fn)
		}
	}

	// This iterates over all commands and wraps their action function.
	iterate(ctx.App.Commands, func(cmd *cli.Command) {
		if cmd.Action == nil {
			return
		}

		action := cmd.Action
		cmd.Action = func(ctx *cli.Context) error {
			doMigrateFlags(ctx)
			return action(ctx)
		}
	})
}

func doMigrateFlags(ctx *cli.Context) {
	// Figure out if there are any aliases of commands. If there are, we want
	// to ignore them when iterating over the flags.
	aliases := make(map[string]bool)
	for _, fl := range ctx.Command.Flags {
		for _, alias := range fl.Names()[1:] {
			aliases[alias] = true
		}
	}
	for _, name := range ctx.FlagNames() {
		for _, parent := range ctx.Lineage()[1:] {
			if parent.IsSet(name) {
				// Slice flags are set once per name; copying both the canon
				// and alias spellings would double the values, so aliases
				// are skipped.
				if aliases[name] {
					continue
				}
				ctx.Set(name, parent.String(name))
				break
			}
		}
	}
}
