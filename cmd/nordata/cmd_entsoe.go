// Package main, entsoe commands: ENTSO-E transparency platform downloads.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"nordata/internal/entsoe"
	"nordata/internal/fetch"
	"nordata/internal/ledger"
)

var entsoeCmd = &cobra.Command{
	Use:   "entsoe",
	Short: "Nordic electricity data from the ENTSO-E transparency platform",
	Long: `Downloads electricity market data for the twelve Nordic bidding zones.
All requests carry the securityToken from the config file or the
ENTSOE_API_TOKEN environment variable.`,
}

var entsoeLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Download day-ahead and actual total load",
	Long: `Fetches total load per bidding zone and year, day-ahead and realised,
joins the two series on their timestamps and writes
entsoe/entsoe_total_load_nordic.csv.`,
	RunE: runEntsoeLoad,
}

var entsoeGenerationCmd = &cobra.Command{
	Use:   "generation",
	Short: "Download hourly generation per production type",
	Long: `Fetches realised generation per production type for every missing
zone-year checkpoint under entsoe/raw/, then consolidates the
checkpoints into entsoe/nordic_hourly_gen_prodtype.csv.`,
	RunE: runEntsoeGeneration,
}

var entsoeCapacityCmd = &cobra.Command{
	Use:   "capacity",
	Short: "Download year-ahead installed capacity",
	Long: `Fetches installed capacity per production type for every zone and
year and writes entsoe/nordic_installed_capacities.csv.`,
	RunE: runEntsoeCapacity,
}

var entsoeUnitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Download actual generation per generation unit",
	Long: `Fetches per-unit generation for the four Nordic control areas, one
month at a time, and writes one
entsoe/units/A73_Nordic_Filled_Month_YYYY-MM.csv per month. The month
files double as checkpoints; months already on disk are skipped.`,
	RunE: runEntsoeUnits,
}

var (
	entsoeFromYearFlag int
	entsoeToYearFlag   int
	entsoeZonesFlag    []string
	entsoeUnitsFrom    string
	entsoeUnitsTo      string
	entsoeDayWorkers   int
	entsoeDryRun       bool
)

func init() {
	for _, c := range []*cobra.Command{entsoeLoadCmd, entsoeGenerationCmd, entsoeCapacityCmd} {
		c.Flags().IntVar(&entsoeFromYearFlag, "from-year", 0, "First year to fetch (default: config)")
		c.Flags().IntVar(&entsoeToYearFlag, "to-year", 0, "Last year to fetch (default: config)")
		c.Flags().StringSliceVar(&entsoeZonesFlag, "zones", nil, "Bidding zones, e.g. NO1,SE3 (default: all)")
	}
	entsoeUnitsCmd.Flags().StringVar(&entsoeUnitsFrom, "from", "", "First month to fetch, YYYY-MM (default: config)")
	entsoeUnitsCmd.Flags().StringVar(&entsoeUnitsTo, "to", "", "Last month to fetch, YYYY-MM (default: config)")
	entsoeUnitsCmd.Flags().IntVar(&entsoeDayWorkers, "day-workers", 0, "Concurrent day windows per control area (default: config)")
	for _, c := range []*cobra.Command{entsoeLoadCmd, entsoeGenerationCmd, entsoeCapacityCmd, entsoeUnitsCmd} {
		c.Flags().BoolVar(&entsoeDryRun, "dry-run", false, "Plan only, fetch nothing")
	}

	entsoeCmd.AddCommand(entsoeLoadCmd)
	entsoeCmd.AddCommand(entsoeGenerationCmd)
	entsoeCmd.AddCommand(entsoeCapacityCmd)
	entsoeCmd.AddCommand(entsoeUnitsCmd)
	rootCmd.AddCommand(entsoeCmd)
}

// entsoeJob wires a client and job for one subcommand. The platform gets a
// roomier timeout than the statistics sources because a whole-year document
// runs to megabytes, and its own retry contract of three spaced attempts.
func entsoeJob(dir string, led *ledger.Ledger) (*entsoe.Job, error) {
	if cfg.Entsoe.Token == "" && !entsoeDryRun {
		return nil, errors.New("no ENTSO-E token configured, set ENTSOE_API_TOKEN or entsoe.token")
	}

	sc := sessionConfig()
	if sc.Timeout < 30*time.Second {
		sc.Timeout = 30 * time.Second
	}
	sc.Policy = entsoe.RetryPolicy()
	// The token travels in the query string; keep it out of retry logs.
	sc.RedactParam = "securityToken"

	jc := entsoe.JobConfig{
		StoreDir:   dir,
		FromYear:   cfg.Entsoe.FromYear,
		ToYear:     cfg.Entsoe.ToYear,
		Zones:      cfg.Entsoe.Zones,
		UnitsFrom:  cfg.Entsoe.UnitsFrom,
		UnitsTo:    cfg.Entsoe.UnitsTo,
		DayWorkers: cfg.Entsoe.DayWorkers,
		DryRun:     entsoeDryRun,
	}
	if entsoeFromYearFlag > 0 {
		jc.FromYear = entsoeFromYearFlag
	}
	if entsoeToYearFlag > 0 {
		jc.ToYear = entsoeToYearFlag
	}
	if len(entsoeZonesFlag) > 0 {
		jc.Zones = entsoeZonesFlag
	}
	if entsoeUnitsFrom != "" {
		jc.UnitsFrom = entsoeUnitsFrom
	}
	if entsoeUnitsTo != "" {
		jc.UnitsTo = entsoeUnitsTo
	}
	if entsoeDayWorkers > 0 {
		jc.DayWorkers = entsoeDayWorkers
	}

	client := entsoe.NewClient(cfg.Entsoe.BaseURL, cfg.Entsoe.Token, fetch.NewSession(sc, logger), logger)
	return entsoe.NewJob(client, led, logger, jc), nil
}

func runEntsoeLoad(cmd *cobra.Command, args []string) error {
	return runJob("entsoe", "entsoe load", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		j, err := entsoeJob(dir, led)
		if err != nil {
			return err
		}
		return j.RunLoad(ctx, runID)
	})
}

func runEntsoeGeneration(cmd *cobra.Command, args []string) error {
	return runJob("entsoe", "entsoe generation", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		j, err := entsoeJob(dir, led)
		if err != nil {
			return err
		}
		return j.RunGeneration(ctx, runID)
	})
}

func runEntsoeCapacity(cmd *cobra.Command, args []string) error {
	return runJob("entsoe", "entsoe capacity", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		j, err := entsoeJob(dir, led)
		if err != nil {
			return err
		}
		return j.RunCapacity(ctx, runID)
	})
}

func runEntsoeUnits(cmd *cobra.Command, args []string) error {
	return runJob("entsoe", "entsoe units", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		j, err := entsoeJob(dir, led)
		if err != nil {
			return err
		}
		return j.RunUnits(ctx, runID)
	})
}
