// Package main, ssb commands: Statistics Norway derived series.
package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"nordata/internal/fetch"
	"nordata/internal/ledger"
	"nordata/internal/ssb"
)

var ssbCmd = &cobra.Command{
	Use:   "ssb",
	Short: "Statistics Norway tables and classifications",
}

var ssbMacroCmd = &cobra.Command{
	Use:   "macro",
	Short: "Build the quarterly GDP and population series",
	Long: `Queries tables 09190 (GDP), 01222 (quarterly population) and 06913
(yearly population), splices the yearly history onto the quarterly
series and writes utility/gdp_population.csv.`,
	RunE: runSSBMacro,
}

var ssbCPICmd = &cobra.Command{
	Use:   "cpi",
	Short: "Download the consumer price index",
	Long: `Queries tables 08981 (monthly) and 08184 (yearly) and writes
utility/cpi_monthly_1920_2024.csv and utility/cpi_yearly_1920_2024.csv.`,
	RunE: runSSBCPI,
}

var ssbMuniCmd = &cobra.Command{
	Use:   "municipalities",
	Short: "Build municipality series on 2020 codes",
	Long: `Reads the KLASS municipality classification (centrality
correspondence, code changes, code snapshots) and tables 07459
(population by age) and 06944 (household income), rolls historical
municipality codes onto the 2020 vintage and writes the five files
under utility/.`,
	RunE: runSSBMunicipalities,
}

var (
	ssbFromYear int
	ssbToYear   int
	ssbDryRun   bool
)

func init() {
	ssbMuniCmd.Flags().IntVar(&ssbFromYear, "from-year", 0, "First population year (default: config)")
	ssbMuniCmd.Flags().IntVar(&ssbToYear, "to-year", 0, "Last population year (default: config)")
	for _, c := range []*cobra.Command{ssbMacroCmd, ssbCPICmd, ssbMuniCmd} {
		c.Flags().BoolVar(&ssbDryRun, "dry-run", false, "Plan only, fetch nothing")
	}

	ssbCmd.AddCommand(ssbMacroCmd)
	ssbCmd.AddCommand(ssbCPICmd)
	ssbCmd.AddCommand(ssbMuniCmd)
	rootCmd.AddCommand(ssbCmd)
}

func runSSBMacro(cmd *cobra.Command, args []string) error {
	return runJob("utility", "ssb macro", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		if ssbDryRun {
			fmt.Printf("would query tables 09190, 01222 and 06913 at %s\n", cfg.SSB.BaseURL)
			fmt.Printf("would write %s\n", filepath.Join(dir, ssb.GDPFile))
			return nil
		}
		px := ssb.NewPxWeb(cfg.SSB.BaseURL, fetch.NewSession(sessionConfig(), logger), logger)
		return ssb.NewMacroJob(px, led, logger, dir).Run(ctx, runID)
	})
}

func runSSBCPI(cmd *cobra.Command, args []string) error {
	return runJob("utility", "ssb cpi", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		if ssbDryRun {
			fmt.Printf("would query tables 08981 and 08184 at %s\n", cfg.SSB.BaseURL)
			fmt.Printf("would write %s and %s\n",
				filepath.Join(dir, ssb.CPIMonthlyFile), filepath.Join(dir, ssb.CPIYearlyFile))
			return nil
		}
		px := ssb.NewPxWeb(cfg.SSB.BaseURL, fetch.NewSession(sessionConfig(), logger), logger)
		return ssb.NewCPIJob(px, led, logger, dir).Run(ctx, runID)
	})
}

func runSSBMunicipalities(cmd *cobra.Command, args []string) error {
	return runJob("utility", "ssb municipalities", func(ctx context.Context, dir string, led *ledger.Ledger, runID string) error {
		fromYear := ssbFromYear
		if fromYear <= 0 {
			fromYear = cfg.SSB.PopFromYear
		}
		toYear := ssbToYear
		if toYear <= 0 {
			toYear = cfg.SSB.PopToYear
		}
		if ssbDryRun {
			fmt.Printf("would read KLASS classification 131 and query tables 07459 (%d..%d) and 06944 at %s\n",
				fromYear, toYear, cfg.SSB.BaseURL)
			fmt.Printf("would write %s, %s, code snapshots, %s and %s\n",
				filepath.Join(dir, ssb.CentralityFile), filepath.Join(dir, ssb.ChangesFile),
				filepath.Join(dir, ssb.PopulationFile), filepath.Join(dir, ssb.IncomeFile))
			return nil
		}
		session := fetch.NewSession(sessionConfig(), logger)
		px := ssb.NewPxWeb(cfg.SSB.BaseURL, session, logger)
		klass := ssb.NewKlass(cfg.SSB.BaseURL, session, logger)
		job := ssb.NewMuniJob(px, klass, led, logger, ssb.MuniConfig{
			StoreDir: dir,
			FromYear: fromYear,
			ToYear:   toYear,
		})
		return job.Run(ctx, runID)
	})
}
