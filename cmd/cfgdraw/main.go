// cfgdraw renders the control flow graph of a Bril function as DOT or SVG,
// optionally re-rendering whenever the program file changes.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
)

func main() {
	var (
		funcArg string
		outArg  string
		format  string
		watch   bool
	)
	flag.StringVar(&funcArg, "func", "", "function to draw (defaults to main, or the only function)")
	flag.StringVar(&outArg, "out", "", "output file path (.dot or .svg). If empty, write DOT to stdout")
	flag.StringVar(&format, "format", "", "output format: dot or svg (inferred from --out when omitted)")
	flag.BoolVar(&watch, "watch", false, "re-render whenever the program file changes (requires --out)")
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		fatal(errors.New("exactly one program file is required"))
	}
	path := flag.Arg(0)

	// Determine format
	if format == "" && outArg != "" {
		switch strings.ToLower(filepath.Ext(outArg)) {
		case ".svg":
			format = "svg"
		default:
			format = "dot"
		}
	}
	if format == "" {
		format = "dot"
	}
	switch format {
	case "dot":
	case "svg":
		if _, err := exec.LookPath("dot"); err != nil {
			fatal(errors.New("dot not found in PATH; install graphviz or choose --format=dot"))
		}
	default:
		fatal(fmt.Errorf("unknown format %q (use dot or svg)", format))
	}
	if watch && outArg == "" {
		fatal(errors.New("--watch requires --out"))
	}

	if err := render(path, funcArg, outArg, format); err != nil {
		fatal(err)
	}
	if watch {
		if err := watchAndRender(path, funcArg, outArg, format); err != nil {
			fatal(err)
		}
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "cfgdraw - render Bril control flow graphs as DOT/SVG\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  cfgdraw [--func name] [--out graph.dot|graph.svg] [--format dot|svg] program.json\n")
	fmt.Fprintf(os.Stderr, "  cfgdraw --watch --out graph.svg program.json\n")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "cfgdraw: %v\n", err)
	os.Exit(1)
}

// render draws one frame: parse the program, build the graph, emit it.
func render(path, funcArg, outArg, format string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p, err := bril.ParseProgram(data)
	if err != nil {
		return err
	}
	if err := bril.Validate(p); err != nil {
		return err
	}
	fn, err := pickFunction(p, funcArg)
	if err != nil {
		return err
	}
	g, err := cfg.Build(fn)
	if err != nil {
		return fmt.Errorf("@%s: %v", fn.Name, err)
	}
	dot := g.Dot(fn.Name)

	if format == "svg" {
		var svg bytes.Buffer
		cmd := exec.Command("dot", "-Tsvg")
		cmd.Stdin = bytes.NewReader(dot)
		cmd.Stdout = &svg
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("dot render: %w", err)
		}
		return writeOut(outArg, svg.Bytes())
	}
	return writeOut(outArg, dot)
}

func writeOut(outArg string, data []byte) error {
	if outArg == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outArg, data, 0o644)
}

// pickFunction chooses the function to draw: the named one, else main, else
// the program's only function.
func pickFunction(p *bril.Program, name string) (*bril.Function, error) {
	if name != "" {
		if fn := p.Function(strings.TrimPrefix(name, "@")); fn != nil {
			return fn, nil
		}
		return nil, fmt.Errorf("no function named %q", name)
	}
	if fn := p.Function("main"); fn != nil {
		return fn, nil
	}
	if len(p.Functions) == 1 {
		return p.Functions[0], nil
	}
	return nil, errors.New("program has no main, select a function with --func")
}

// watchAndRender re-renders on every change to the program file. The parent
// directory is watched rather than the file itself so editors that replace
// the file on save keep triggering events.
func watchAndRender(path, funcArg, outArg, format string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "watching %s, rendering to %s\n", path, outArg)

	// Editors fire bursts of events per save; the timer collapses each burst
	// into one render a beat after the last event.
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce.Reset(100 * time.Millisecond)
			}
		case <-debounce.C:
			if err := render(path, funcArg, outArg, format); err != nil {
				fmt.Fprintf(os.Stderr, "cfgdraw: %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "rendered %s\n", outArg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
