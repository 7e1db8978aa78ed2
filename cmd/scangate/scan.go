package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AlexKimmel/ScanGate/internal/module"
	"github.com/AlexKimmel/ScanGate/internal/obs"
	"github.com/AlexKimmel/ScanGate/internal/ratelimit"
	"github.com/AlexKimmel/ScanGate/internal/scan"
	"github.com/AlexKimmel/ScanGate/internal/target"
)

type scanFlags struct {
	modules   string
	maxJitter time.Duration
}

func newScanCmd(root *rootFlags) *cobra.Command {
	flags := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan <target> [target...]",
		Short: "Run a scan",
		Long:  "Run the selected modules against each target (domain, IP, email, URL, ...).",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, root, flags, args)
		},
	}
	cmd.Flags().StringVarP(&flags.modules, "modules", "m", "", `modules to enable, comma separated or "all" (default from config)`)
	cmd.Flags().DurationVar(&flags.maxJitter, "max-jitter", 0, "upper bound of random delay added after a per-key wait")
	return cmd
}

func runScan(cmd *cobra.Command, root *rootFlags, flags *scanFlags, args []string) error {
	cfg, err := root.load(cmd.Flags())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-jitter") {
		cfg.Scan.MaxJitterMS = int(flags.maxJitter / time.Millisecond)
	}
	spec := cfg.Scan.ModuleSpec()
	if flags.modules != "" {
		spec = flags.modules
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel, cfg.Observability.Pretty)

	targets := make([]target.Target, 0, len(args))
	for _, raw := range args {
		t, err := target.Parse(raw)
		if err != nil {
			return fmt.Errorf("target %q: %w", raw, err)
		}
		targets = append(targets, t)
	}

	mods, err := module.Default().Select(spec)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	mgr := ratelimit.NewManager(cfg.Limits.Global.RPS, cfg.Limits.Global.Burst,
		ratelimit.WithDefaultQuota(cfg.Limits.Default.RPS, cfg.Limits.Default.Burst),
		ratelimit.WithOverrides(cfg.Limits.Quotas()),
		ratelimit.WithObserver(metrics),
		ratelimit.WithLogger(logger),
	)

	ctx := cmd.Context()
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := obs.Serve(ctx, addr, cfg.Observability.PrometheusPath, reg, logger); err != nil {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	global := mgr.Global().Quota()
	logger.Info().
		Int("targets", len(targets)).
		Int("modules", len(mods)).
		Int("global_rps", global.RefillRate).
		Int("global_burst", global.Capacity).
		Int("overrides", len(cfg.Limits.Overrides)).
		Msg("starting scan")

	runner := scan.NewFromManager(mgr, cfg.Scan.MaxJitter(),
		scan.WithConcurrency(cfg.Scan.Concurrency),
		scan.WithModuleOptions(module.Options{
			Timeout:   cfg.Scan.Timeout(),
			UserAgent: cfg.Scan.UserAgent,
		}),
		scan.WithRecorder(metrics),
		scan.WithLogger(logger),
	)

	results, err := runner.RunAll(ctx, targets, mods)
	printResults(cmd.OutOrStdout(), results)
	logger.Info().Int("keys", mgr.Len()).Msg("scan complete")
	logger.Debug().Strs("keys", mgr.KeyNames()).Msg("limiter keys")
	return err
}

func printResults(w io.Writer, results []*scan.Result) {
	findings := tablewriter.NewWriter(w)
	findings.SetHeader([]string{"Target", "Module", "Type", "Data"})
	findings.SetAutoWrapText(false)

	failures := tablewriter.NewWriter(w)
	failures.SetHeader([]string{"Target", "Module", "Error"})
	failures.SetAutoWrapText(false)

	var nFindings, nFailures int
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, e := range res.Events {
			findings.Append([]string{res.Target.String(), e.Module, e.Type, e.Data})
			nFindings++
		}

		names := make([]string, 0, len(res.Errors))
		for name := range res.Errors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			failures.Append([]string{res.Target.String(), name, res.Errors[name].Error()})
			nFailures++
		}
		if len(res.Skipped) > 0 {
			fmt.Fprintf(w, "%s: skipped %s (target kind not supported)\n", res.Target, strings.Join(res.Skipped, ", "))
		}
	}

	if nFindings == 0 {
		fmt.Fprintln(w, "no findings")
	} else {
		findings.Render()
	}
	if nFailures > 0 {
		failures.Render()
	}
}
