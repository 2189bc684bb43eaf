package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cmd/utils"
)

// loadProgram reads, parses and validates one Bril program. The conventional
// "-" (or an empty path) reads standard input.
func loadProgram(path string) (*bril.Program, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	p, err := bril.ParseProgram(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", displayPath(path), err)
	}
	if err := bril.Validate(p); err != nil {
		return nil, fmt.Errorf("%s: %v", displayPath(path), err)
	}
	return p, nil
}

func displayPath(path string) string {
	if path == "" || path == "-" {
		return "<stdin>"
	}
	return path
}

// writeProgram emits p as JSON, or in the textual form with --text, honoring
// the --out destination.
func writeProgram(ctx *cli.Context, p *bril.Program) error {
	out := os.Stdout
	if name := ctx.String(utils.OutputFlag.Name); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return fprintProgram(out, p, ctx.Bool(utils.TextFlag.Name))
}

func fprintProgram(w io.Writer, p *bril.Program, text bool) error {
	if text {
		return bril.Fprint(w, p)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// selectFunctions resolves a --func filter against the program, returning all
// functions when the filter is empty.
func selectFunctions(p *bril.Program, name string) ([]*bril.Function, error) {
	if name == "" {
		return p.Functions, nil
	}
	if fn := p.Function(name); fn != nil {
		return []*bril.Function{fn}, nil
	}
	return nil, fmt.Errorf("no function named %q", name)
}
