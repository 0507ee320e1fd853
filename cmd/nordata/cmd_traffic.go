// Package main, traffic commands: NPRA registration points and volumes.
package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"nordata/internal/fetch"
	"nordata/internal/ledger"
	"nordata/internal/npra"
)

var trafficCmd = &cobra.Command{
	Use:   "traffic",
	Short: "Road traffic registration data from the NPRA",
}

var trafficStationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Download the traffic registration point catalog",
	Long: `Queries the trafficdata GraphQL API for every registration point and
writes traffic/trafficregpoints.csv.`,
	RunE: runTrafficStations,
}

var trafficVolumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "Download hourly traffic volumes per registration point",
	Long: `Walks the registration point catalog and appends hourly volumes to
traffic/aggvol.csv and traffic/lengthvol.csv, one 100-hour window per
request. The volume files are append-only; --resume continues after the
last completed station recorded in volume_progress.json. A missing
catalog is fetched first.`,
	RunE: runTrafficVolumes,
}

var (
	trafficAll        bool
	trafficResume     bool
	trafficStartIndex int
	trafficStation    string
	trafficDryRun     bool
)

func init() {
	trafficVolumesCmd.Flags().BoolVar(&trafficAll, "all", false, "Process every station from the top (the default)")
	trafficVolumesCmd.Flags().BoolVar(&trafficResume, "resume", false, "Continue after the last completed station")
	trafficVolumesCmd.Flags().IntVar(&trafficStartIndex, "start-index", -1, "List position to start from, wins over --resume")
	trafficVolumesCmd.Flags().StringVar(&trafficStation, "station", "", "Only this registration point id")
	trafficVolumesCmd.MarkFlagsMutuallyExclusive("all", "resume")
	trafficStationsCmd.Flags().BoolVar(&trafficDryRun, "dry-run", false, "Plan only, fetch nothing")
	trafficVolumesCmd.Flags().BoolVar(&trafficDryRun, "dry-run", false, "Plan only, fetch nothing")

	trafficCmd.AddCommand(trafficStationsCmd)
	trafficCmd.AddCommand(trafficVolumesCmd)
	rootCmd.AddCommand(trafficCmd)
}

func runTrafficStations(cmd *cobra.Command, args []string) error {
	return runJob("traffic", "traffic stations", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		if trafficDryRun {
			fmt.Printf("would fetch the registration point catalog from %s\n", cfg.NPRA.BaseURL)
			fmt.Printf("would write %s\n", filepath.Join(dir, npra.CatalogFile))
			return nil
		}
		client := npra.NewClient(cfg.NPRA.BaseURL, fetch.NewSession(sessionConfig(), logger), logger)
		d := npra.NewDownloader(client, led, logger, npra.DownloadConfig{StoreDir: dir})
		stations, err := d.FetchStations(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d registration points to %s\n",
			len(stations), filepath.Join(dir, npra.CatalogFile))
		return nil
	})
}

func runTrafficVolumes(cmd *cobra.Command, args []string) error {
	return runJob("traffic", "traffic volumes", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		client := npra.NewClient(cfg.NPRA.BaseURL, fetch.NewSession(sessionConfig(), logger), logger)
		d := npra.NewDownloader(client, led, logger, npra.DownloadConfig{
			StoreDir:    dir,
			WindowHours: cfg.NPRA.WindowHours,
			StartIndex:  trafficStartIndex,
			Resume:      trafficResume,
			Station:     trafficStation,
			DryRun:      trafficDryRun,
		})
		return d.Run(ctx, runID)
	})
}
