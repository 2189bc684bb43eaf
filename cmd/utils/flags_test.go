package utils

import (
	"flag"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"
)

func Test_SplitAndTrim(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			"2 passes case",
			"constprop,dce",
			[]string{"constprop", "dce"},
		},
		{
			"whitespace case",
			" constprop , dce ",
			[]string{"constprop", "dce"},
		},
		{
			"empty elements case",
			",constprop,,dce,",
			[]string{"constprop", "dce"},
		},
		{
			"empty case",
			"",
			nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SplitAndTrim(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitAndTrim() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMakeOptConfig(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range GroupFlags {
		if err := f.Apply(set); err != nil {
			t.Fatalf("apply flag: %v", err)
		}
	}
	err := set.Parse([]string{
		"--passes", "dce, constprop",
		"--fixpoint",
		"--max-rounds", "4",
		"--jobs", "2",
		"--cache.disable",
	})
	assert.NoError(t, err)

	cfg := MakeOptConfig(cli.NewContext(nil, set, nil))
	assert.True(t, cfg.Fixpoint)
	assert.Equal(t, 4, cfg.MaxRounds)
	assert.Equal(t, 2, cfg.Jobs)
	assert.Nil(t, cfg.Cache, "disabled cache must stay nil")

	names := make([]string, len(cfg.Passes))
	for i, p := range cfg.Passes {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"dce", "constprop"}, names)
}
