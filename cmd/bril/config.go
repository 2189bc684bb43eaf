package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/brilang/go-bril/cmd/utils"
	"github.com/brilang/go-bril/internal/flags"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/metrics"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}

	dumpConfigCommand = &cli.Command{
		Action:    dumpConfig,
		Name:      "dumpconfig",
		Usage:     "Export configuration values in a TOML format",
		ArgsUsage: "[<output file>]",
		Flags:     flags.Merge([]cli.Flag{configFileFlag}, utils.GroupFlags),
		Description: `
The dumpconfig command shows the configuration the other commands would run
with: built-in defaults, overridden by the --config file, overridden by any
explicit flags. The output is itself a valid --config file.`,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// brilConfig mirrors the pipeline and cache flags in a file-friendly shape.
// Values on the command line win over file values.
type brilConfig struct {
	Passes    []string `toml:",omitempty"`
	Fixpoint  bool     `toml:",omitempty"`
	MaxRounds int      `toml:",omitempty"`
	Jobs      int      `toml:",omitempty"`
	Cache     cacheConfig
	Metrics   bool `toml:",omitempty"`
}

// cacheConfig configures the two-level optimization artifact cache.
type cacheConfig struct {
	Disabled  bool `toml:",omitempty"`
	Megabytes int
	Dir       string `toml:",omitempty"`
	Engine    string
}

func defaultConfig() brilConfig {
	return brilConfig{
		Cache: cacheConfig{
			Megabytes: utils.CacheFlag.Value,
			Engine:    utils.CacheEngineFlag.Value,
		},
	}
}

// loadConfig applies the values of a TOML file on top of cfg.
func loadConfig(file string, cfg *brilConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// applyConfigFile loads the --config file, if one was given, and copies its
// values onto every flag the command line left unset. Flag readers downstream
// then observe a single merged view.
func applyConfigFile(ctx *cli.Context) {
	path := ctx.String(configFileFlag.Name)
	if path == "" {
		return
	}
	cfg := defaultConfig()
	if err := loadConfig(path, &cfg); err != nil {
		utils.Fatalf("%v", err)
	}
	set := func(name, value string) {
		if ctx.IsSet(name) {
			return
		}
		if err := ctx.Set(name, value); err != nil {
			utils.Fatalf("Invalid %s value in %s: %v", name, path, err)
		}
	}
	if len(cfg.Passes) > 0 {
		set(utils.PassesFlag.Name, strings.Join(cfg.Passes, ","))
	}
	if cfg.Fixpoint {
		set(utils.FixpointFlag.Name, "true")
	}
	if cfg.MaxRounds > 0 {
		set(utils.MaxRoundsFlag.Name, strconv.Itoa(cfg.MaxRounds))
	}
	if cfg.Jobs > 0 {
		set(utils.JobsFlag.Name, strconv.Itoa(cfg.Jobs))
	}
	if cfg.Cache.Disabled {
		set(utils.CacheDisabledFlag.Name, "true")
	}
	if cfg.Cache.Megabytes != utils.CacheFlag.Value {
		set(utils.CacheFlag.Name, strconv.Itoa(cfg.Cache.Megabytes))
	}
	if cfg.Cache.Dir != "" {
		set(utils.CacheDirFlag.Name, cfg.Cache.Dir)
	}
	if cfg.Cache.Engine != utils.CacheEngineFlag.Value {
		set(utils.CacheEngineFlag.Name, cfg.Cache.Engine)
	}
	if cfg.Metrics {
		set(utils.MetricsEnabledFlag.Name, "true")
		// SetupMetrics already ran in app.Before, so a file-driven enable has
		// to flip the switch itself.
		if !metrics.Enabled {
			metrics.Enabled = true
			log.Info("Enabling metrics collection")
		}
	}
}

// effectiveConfig reads the merged flag view back into the file schema.
func effectiveConfig(ctx *cli.Context) brilConfig {
	var cfg brilConfig
	if ctx.IsSet(utils.PassesFlag.Name) {
		cfg.Passes = utils.SplitAndTrim(ctx.String(utils.PassesFlag.Name))
	}
	cfg.Fixpoint = ctx.Bool(utils.FixpointFlag.Name)
	cfg.MaxRounds = ctx.Int(utils.MaxRoundsFlag.Name)
	cfg.Jobs = ctx.Int(utils.JobsFlag.Name)
	cfg.Cache = cacheConfig{
		Disabled:  ctx.Bool(utils.CacheDisabledFlag.Name),
		Megabytes: ctx.Int(utils.CacheFlag.Name),
		Dir:       ctx.String(utils.CacheDirFlag.Name),
		Engine:    ctx.String(utils.CacheEngineFlag.Name),
	}
	cfg.Metrics = ctx.Bool(utils.MetricsEnabledFlag.Name)
	return cfg
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	applyConfigFile(ctx)
	cfg := effectiveConfig(ctx)

	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.Create(ctx.Args().Get(0))
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)
	return nil
}
