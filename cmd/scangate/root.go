package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AlexKimmel/ScanGate/internal/config"
	"github.com/AlexKimmel/ScanGate/internal/ratelimit"
)

type rootFlags struct {
	configPath  string
	debug       bool
	pretty      bool
	globalRPS   float64
	globalBurst int
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "scangate",
		Short:         "Rate-limited OSINT scanner",
		Long:          "scangate runs probe modules against targets while bounding the request rate per host and overall.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags.bind(cmd.PersistentFlags())
	cmd.AddCommand(newScanCmd(flags), newModulesCmd())
	return cmd
}

func (f *rootFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "path to YAML config file (global limits, per-key overrides)")
	fs.BoolVar(&f.debug, "debug", false, "use debug level logging")
	fs.BoolVar(&f.pretty, "pretty", false, "human readable logs instead of JSON")
	fs.Float64Var(&f.globalRPS, "global-rps", ratelimit.DefaultRPS, "global maximum requests per second across all keys")
	fs.IntVar(&f.globalBurst, "global-burst", ratelimit.DefaultBurst, "global burst size")
}

// load reads the config file, if any, and applies flags the user set.
func (f *rootFlags) load(fs *pflag.FlagSet) (*config.Root, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	if fs.Changed("global-rps") {
		cfg.Limits.Global.RPS = f.globalRPS
	}
	if fs.Changed("global-burst") {
		cfg.Limits.Global.Burst = f.globalBurst
	}
	if f.debug {
		cfg.Observability.LogLevel = "debug"
	}
	if fs.Changed("pretty") {
		cfg.Observability.Pretty = f.pretty
	}
	return cfg, nil
}
