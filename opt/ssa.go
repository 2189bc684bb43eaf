package opt

import (
	"errors"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/cfg"
	"github.com/brilang/go-bril/ssa"
)

// ToSSA rewrites fn into SSA form. A body already carrying phis is left
// untouched so pipelines can be rerun over their own output.
func ToSSA(fn *bril.Function) (bool, error) {
	g, err := cfg.Build(fn)
	if err != nil {
		return false, err
	}
	if err := ssa.Convert(g); err != nil {
		if errors.Is(err, ssa.ErrAlreadySSA) {
			return false, nil
		}
		return false, err
	}
	g.FlattenInto(fn)
	return true, nil
}

// FromSSA removes phi instructions by materializing copies in predecessors.
// A body without phis is left untouched.
func FromSSA(fn *bril.Function) (bool, error) {
	g, err := cfg.Build(fn)
	if err != nil {
		return false, err
	}
	hasPhis := false
	for _, b := range g.Blocks {
		if len(b.Phis()) > 0 {
			hasPhis = true
			break
		}
	}
	if !hasPhis {
		return false, nil
	}
	if err := ssa.Deconstruct(g); err != nil {
		return false, err
	}
	g.FlattenInto(fn)
	return true, nil
}
