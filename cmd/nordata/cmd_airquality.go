// Package main, airquality commands: NILU stations and observations.
package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"nordata/internal/fetch"
	"nordata/internal/ledger"
	"nordata/internal/nilu"
)

var airqualityCmd = &cobra.Command{
	Use:   "airquality",
	Short: "Air quality observations from the NILU network",
}

var airStationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Download the measurement station lookup table",
	Long:  `Fetches /lookup/stations and writes airquality/stations.csv.`,
	RunE:  runAirStations,
}

var airMeasurementsCmd = &cobra.Command{
	Use:   "measurements",
	Short: "Download observations for every station and year",
	Long: `Fetches day-aggregated observations per station and year into
airquality/raw/measurements_<station>_<year>.csv.gz checkpoints, then
consolidates them into measurements.csv and measurements.pq. Existing
checkpoints are skipped, so a stopped run resumes for free. A missing
station table is fetched first.`,
	RunE: runAirMeasurements,
}

var (
	airFromYear int
	airToYear   int
	airStation  int
	airDryRun   bool
)

func init() {
	airMeasurementsCmd.Flags().IntVar(&airFromYear, "from-year", 0, "First year to fetch (default: config)")
	airMeasurementsCmd.Flags().IntVar(&airToYear, "to-year", 0, "Last year to fetch (default: current year)")
	airMeasurementsCmd.Flags().IntVar(&airStation, "station", 0, "Only this station id")
	airStationsCmd.Flags().BoolVar(&airDryRun, "dry-run", false, "Plan only, fetch nothing")
	airMeasurementsCmd.Flags().BoolVar(&airDryRun, "dry-run", false, "Plan only, fetch nothing")

	airqualityCmd.AddCommand(airStationsCmd)
	airqualityCmd.AddCommand(airMeasurementsCmd)
	rootCmd.AddCommand(airqualityCmd)
}

func airJob(dir string, led *ledger.Ledger) *nilu.Job {
	fromYear := airFromYear
	if fromYear <= 0 {
		fromYear = cfg.NILU.FromYear
	}
	toYear := airToYear
	if toYear <= 0 {
		toYear = cfg.NILUToYear(time.Now())
	}
	client := nilu.NewClient(cfg.NILU.BaseURL, fetch.NewSession(sessionConfig(), logger), logger)
	return nilu.NewJob(client, led, logger, nilu.JobConfig{
		StoreDir: dir,
		FromYear: fromYear,
		ToYear:   toYear,
		Station:  airStation,
		DryRun:   airDryRun,
	})
}

func runAirStations(cmd *cobra.Command, args []string) error {
	return runJob("airquality", "airquality stations", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		if airDryRun {
			fmt.Printf("would fetch the station lookup from %s\n", cfg.NILU.BaseURL)
			fmt.Printf("would write %s\n", filepath.Join(dir, nilu.StationsFile))
			return nil
		}
		stations, err := airJob(dir, led).FetchStations(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d stations to %s\n", len(stations), filepath.Join(dir, nilu.StationsFile))
		return nil
	})
}

func runAirMeasurements(cmd *cobra.Command, args []string) error {
	return runJob("airquality", "airquality measurements", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		return airJob(dir, led).Run(ctx, runID)
	})
}
