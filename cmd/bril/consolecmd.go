package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/urfave/cli/v2"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/cmd/utils"
	"github.com/brilang/go-bril/common"
	"github.com/brilang/go-bril/internal/flags"
	"github.com/brilang/go-bril/interp"
	"github.com/brilang/go-bril/opt"
)

var consoleCommand = &cli.Command{
	Action:    localConsole,
	Name:      "console",
	Usage:     "Start an interactive optimizer console",
	ArgsUsage: "[<program.json>]",
	Flags:     flags.Merge([]cli.Flag{configFileFlag}, utils.GroupFlags),
	Description: `
The console is an interactive shell around the optimizer: load a program,
inspect its functions, run analyses and passes over it and execute it without
leaving the tool. Type "help" inside the console for the available commands.`,
}

const consoleHelp = `The console keeps one working program in memory and applies commands to it:

  load <file>                parse and validate a program from disk
  reset                      reload the program from its file
  list                       show functions with block and instruction counts
  print [func]               print the program, or one function, in textual form
  cfg [func]                 print a control flow graph in DOT form
  analyze <analysis> [func]  solve a dataflow analysis and print the results
  opt [pass ...]             run the configured (or the given) pass pipeline
  run [@func] [arg ...]      interpret the program, @main by default
  help                       print this help
  exit                       leave the console
`

// consoleCommands feeds tab completion.
var consoleCommands = []string{
	"analyze", "cfg", "exit", "help", "list", "load",
	"opt", "print", "quit", "reset", "run",
}

var errNoProgram = errors.New(`no program loaded, use "load <file>"`)

// console is the state of one interactive session: the working program and
// the pipeline configuration commands run with.
type console struct {
	prog *bril.Program
	path string
	cfg  opt.Config
}

// localConsole is the entry point of the console command.
func localConsole(ctx *cli.Context) error {
	applyConfigFile(ctx)

	c := &console{cfg: utils.MakeOptConfig(ctx)}
	if ctx.NArg() > 0 {
		if err := c.load(ctx.Args().First()); err != nil {
			return err
		}
	}
	prompter := liner.NewLiner()
	defer prompter.Close()

	prompter.SetCtrlCAborts(true)
	prompter.SetCompleter(func(line string) (out []string) {
		for _, name := range consoleCommands {
			if strings.HasPrefix(name, strings.ToLower(line)) {
				out = append(out, name)
			}
		}
		return out
	})
	if f, err := os.Open(historyPath()); err == nil {
		prompter.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath()); err == nil {
			prompter.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := prompter.Prompt("bril> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		prompter.AppendHistory(input)
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := c.exec(input); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// historyPath locates the console history file, falling back to the temp
// directory when no home is known.
func historyPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".bril_history")
}

// exec dispatches one console line.
func (c *console) exec(input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		fmt.Print(consoleHelp)
		return nil

	case "load":
		if len(args) != 1 {
			return errors.New("usage: load <file>")
		}
		return c.load(args[0])

	case "reset":
		if c.path == "" {
			return errNoProgram
		}
		return c.load(c.path)

	case "list":
		p, err := c.need()
		if err != nil {
			return err
		}
		for _, fn := range p.Functions {
			g, err := cfg.Build(fn)
			if err != nil {
				return fmt.Errorf("@%s: %v", fn.Name, err)
			}
			fmt.Printf("%-40s %3d blocks %5d instrs\n", signature(fn), g.Len(), len(fn.Instrs))
		}
		return nil

	case "print":
		p, err := c.need()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return bril.Fprint(os.Stdout, p)
		}
		fn := p.Function(strings.TrimPrefix(args[0], "@"))
		if fn == nil {
			return fmt.Errorf("no function named %q", args[0])
		}
		return bril.FprintFunction(os.Stdout, fn)

	case "cfg":
		p, err := c.need()
		if err != nil {
			return err
		}
		name := "main"
		if len(args) > 0 {
			name = strings.TrimPrefix(args[0], "@")
		}
		fn := p.Function(name)
		if fn == nil {
			return fmt.Errorf("no function named %q", name)
		}
		g, err := cfg.Build(fn)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(g.Dot(fn.Name))
		return err

	case "analyze":
		if len(args) == 0 || len(args) > 2 {
			return errors.New("usage: analyze <constants|live|alias|reachdefs> [func]")
		}
		p, err := c.need()
		if err != nil {
			return err
		}
		filter := ""
		if len(args) == 2 {
			filter = strings.TrimPrefix(args[1], "@")
		}
		return printAnalysis(p, args[0], filter)

	case "opt":
		p, err := c.need()
		if err != nil {
			return err
		}
		conf := c.cfg
		if len(args) > 0 {
			passes, err := opt.ResolvePasses(args)
			if err != nil {
				return err
			}
			conf.Passes = passes
		}
		report, err := opt.OptimizeProgram(context.Background(), p, conf)
		if err != nil {
			return err
		}
		fmt.Printf("%d functions, %d cache hits, %d failures, %v\n",
			report.Functions, report.CacheHits, report.Errors, common.PrettyDuration(report.Elapsed))
		return nil

	case "run":
		p, err := c.need()
		if err != nil {
			return err
		}
		entry := "main"
		if len(args) > 0 && strings.HasPrefix(args[0], "@") {
			entry = args[0][1:]
			args = args[1:]
		}
		fn := p.Function(entry)
		if fn == nil {
			return fmt.Errorf("no function named %q", entry)
		}
		lits, err := parseArgs(fn, args)
		if err != nil {
			return err
		}
		ret, err := interp.Run(p, entry, lits, os.Stdout)
		if err != nil {
			return err
		}
		if ret != nil {
			fmt.Println(ret)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q, try \"help\"", cmd)
	}
}

// load parses and validates a program from disk, replacing the working copy.
func (c *console) load(path string) error {
	p, err := loadProgram(path)
	if err != nil {
		return err
	}
	c.prog, c.path = p, path
	fmt.Printf("loaded %s (%d functions)\n", path, len(p.Functions))
	return nil
}

func (c *console) need() (*bril.Program, error) {
	if c.prog == nil {
		return nil, errNoProgram
	}
	return c.prog, nil
}

// signature renders a function header the way the textual form does.
func signature(fn *bril.Function) string {
	var b strings.Builder
	b.WriteString("@" + fn.Name)
	if len(fn.Args) > 0 {
		b.WriteString("(")
		for i, arg := range fn.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(arg.Name + ": " + arg.Type.String())
		}
		b.WriteString(")")
	}
	if fn.Type.Kind != bril.TypeNone {
		b.WriteString(": " + fn.Type.String())
	}
	return b.String()
}
