package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datacenter-research/osm-dc-analyzer/internal/analyzer"
	"github.com/datacenter-research/osm-dc-analyzer/internal/batch"
	"github.com/datacenter-research/osm-dc-analyzer/internal/config"
	"github.com/datacenter-research/osm-dc-analyzer/internal/gateway"
	"github.com/datacenter-research/osm-dc-analyzer/internal/resilience"
	"github.com/datacenter-research/osm-dc-analyzer/internal/selector"
)

var (
	inferInput         string
	inferOutput        string
	inferRadiusSteps   string
	inferGenericAllow  string
	inferRequireSignal bool
	inferLimit         int
	inferDryRun        bool
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run the operational-year inference over a coordinates CSV",
	Long: `Reads a CSV with latitude/longitude columns, searches OpenStreetMap around
each coordinate at expanding radii, and writes one output row per input row
with the inferred operational year and its provenance.

Examples:
  # Parse the CSV only, no network calls
  osm-dc-analyzer infer --input sites.csv --dry-run

  # Full run over the first 10 rows
  osm-dc-analyzer infer --input sites.csv --output years.csv --limit 10

  # Wider cascade, stricter fallback
  osm-dc-analyzer infer --input sites.csv --radius-steps 50,100,200,400 --require-signal-for-generic`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		table, err := batch.ReadTable(inferInput)
		if err != nil {
			return eris.Wrap(err, "infer: read input")
		}
		if inferLimit > 0 && inferLimit < len(table.Rows) {
			table.Rows = table.Rows[:inferLimit]
		}
		zap.L().Info("parsed input csv",
			zap.String("path", inferInput),
			zap.Int("rows", len(table.Rows)),
		)

		if inferDryRun {
			return nil
		}

		search := searchOptions(cfg)
		zap.L().Info("starting batch",
			zap.Ints("radius_steps", search.RadiusSteps),
			zap.Bool("require_signal", search.RequireSignal),
		)

		// One Overpass gateway serves both spatial queries and current-tag
		// fetches so they share a single pacing limiter.
		finder := newFinder(cfg)
		driver := batch.NewDriver(
			selector.New(finder, analyzer.New(newHistoryClient(cfg), finder), search),
			cfg.Input.LatColumn,
			cfg.Input.LonColumn,
		)

		out, err := driver.Run(ctx, table)
		if err != nil {
			return eris.Wrap(err, "infer: run batch")
		}

		if len(out.Rows) == 0 {
			zap.L().Warn("no input rows; output not written")
			return nil
		}
		if err := batch.WriteTable(inferOutput, out); err != nil {
			return eris.Wrap(err, "infer: write output")
		}
		zap.L().Info("results written",
			zap.String("path", inferOutput),
			zap.Int("rows", len(out.Rows)),
		)
		return nil
	},
}

func init() {
	inferCmd.Flags().StringVarP(&inferInput, "input", "i", "", "input CSV with coordinate columns (required)")
	inferCmd.Flags().StringVarP(&inferOutput, "output", "o", "dc-years.csv", "output CSV path")
	inferCmd.Flags().StringVar(&inferRadiusSteps, "radius-steps", "", "comma-separated search radii in meters (overrides config)")
	inferCmd.Flags().StringVar(&inferGenericAllow, "generic-allow", "", "comma-separated building values allowed in generic fallback (overrides config)")
	inferCmd.Flags().BoolVar(&inferRequireSignal, "require-signal-for-generic", false, "generic fallback accepts only candidates with a usable date signal")
	inferCmd.Flags().IntVar(&inferLimit, "limit", 0, "process at most N rows (0 = all)")
	inferCmd.Flags().BoolVar(&inferDryRun, "dry-run", false, "parse the input CSV and exit without querying services")
	_ = inferCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(inferCmd)
}

// searchOptions merges config with any flag overrides.
func searchOptions(cfg *config.Config) selector.Options {
	search := cfg.Search
	if inferRadiusSteps != "" {
		search.RadiusSteps = inferRadiusSteps
	}
	if inferGenericAllow != "" {
		search.GenericAllow = inferGenericAllow
	}
	if inferRequireSignal {
		search.RequireSignal = true
	}
	return selector.Options{
		RadiusSteps:   search.Steps(),
		GenericAllow:  search.AllowSet(),
		RequireSignal: search.RequireSignal,
	}
}

func retryConfig(cfg *config.Config) resilience.RetryConfig {
	retry := resilience.DefaultRetryConfig()
	if cfg.HTTP.MaxRetries > 0 {
		retry.MaxAttempts = cfg.HTTP.MaxRetries
	}
	if cfg.HTTP.BackoffInitialMs > 0 {
		retry.InitialBackoff = time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond
	}
	if cfg.HTTP.BackoffMaxMs > 0 {
		retry.MaxBackoff = time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond
	}
	return retry
}

func newFinder(cfg *config.Config) *gateway.Overpass {
	return gateway.NewOverpass(
		cfg.Overpass.URL,
		cfg.HTTP.UserAgent,
		cfg.HTTP.Timeout(),
		cfg.Pace.Overpass(),
		retryConfig(cfg),
	)
}

func newHistoryClient(cfg *config.Config) *gateway.HistoryClient {
	return gateway.NewHistoryClient(
		cfg.OSMAPI.BaseURL,
		cfg.HTTP.UserAgent,
		cfg.HTTP.Timeout(),
		cfg.Pace.History(),
		retryConfig(cfg),
	)
}
