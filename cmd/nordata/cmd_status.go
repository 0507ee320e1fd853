// Package main, status command: run history and on-disk inventory.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"nordata/internal/entsoe"
	"nordata/internal/ledger"
	"nordata/internal/nilu"
	"nordata/internal/npra"
	"nordata/internal/ssb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs, failures and the on-disk inventory",
	RunE:  runStatus,
}

var statusLimit int

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "How many runs and failures to list")
	rootCmd.AddCommand(statusCmd)
}

var (
	headStyle  = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160")) // red
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")) // grey
)

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n\n", headStyle.Render("Data directory:"), root)

	led, err := ledger.Open(cfg.LedgerPath(root))
	if err != nil {
		fmt.Println(mutedStyle.Render("no run ledger: " + err.Error()))
		fmt.Println()
	} else {
		defer led.Close()
		if err := printRuns(led); err != nil {
			return err
		}
		if err := printSources(led); err != nil {
			return err
		}
		if err := printFailures(led); err != nil {
			return err
		}
	}

	printInventory(root)
	return nil
}

func printRuns(led *ledger.Ledger) error {
	runs, err := led.RecentRuns(statusLimit)
	if err != nil {
		return err
	}
	fmt.Println(headStyle.Render("Recent runs"))
	if len(runs) == 0 {
		fmt.Println(mutedStyle.Render("  none recorded"))
		fmt.Println()
		return nil
	}
	for _, r := range runs {
		fmt.Printf("  %s  %-24s %s %d fetched, %d failed, %d skipped\n",
			r.Started.Local().Format("2006-01-02 15:04"), r.Command, runState(r),
			r.Fetched, r.Failed, r.Skipped)
	}
	fmt.Println()
	return nil
}

// runState pads before styling so the ANSI codes do not break alignment.
func runState(r ledger.RunSummary) string {
	switch {
	case !r.Done:
		return mutedStyle.Render(fmt.Sprintf("%-8s", "running"))
	case r.OK:
		return okStyle.Render(fmt.Sprintf("%-8s", "ok"))
	default:
		return failStyle.Render(fmt.Sprintf("%-8s", "failed"))
	}
}

func printSources(led *ledger.Ledger) error {
	fmt.Println(headStyle.Render("Units by source, latest outcome"))
	any := false
	for _, source := range []string{"npra", "nilu", "ssb", "entsoe"} {
		counts, err := led.UnitStatus(source)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			continue
		}
		any = true
		fmt.Printf("  %-8s %s %s %s\n", source,
			okStyle.Render(fmt.Sprintf("%6d ok", counts[ledger.StatusOK])),
			failStyle.Render(fmt.Sprintf("%6d failed", counts[ledger.StatusFailed])),
			mutedStyle.Render(fmt.Sprintf("%6d skipped", counts[ledger.StatusSkipped])))
	}
	if !any {
		fmt.Println(mutedStyle.Render("  none recorded"))
	}
	fmt.Println()
	return nil
}

func printFailures(led *ledger.Ledger) error {
	failures, err := led.RecentFailures(statusLimit)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		return nil
	}
	fmt.Println(headStyle.Render("Recent failures"))
	for _, f := range failures {
		errText := f.Err
		if len(errText) > 80 {
			errText = errText[:77] + "..."
		}
		fmt.Printf("  %s  %-7s %-28s %s\n",
			f.At.Local().Format("2006-01-02 15:04"), f.Source, f.Unit,
			failStyle.Render(errText))
	}
	fmt.Println()
	return nil
}

type invEntry struct {
	rel  string
	glob bool
}

// inventory lists every output the jobs produce, in catalog order.
func inventory() []invEntry {
	return []invEntry{
		{rel: filepath.Join("traffic", npra.CatalogFile)},
		{rel: filepath.Join("traffic", npra.TotalsFile)},
		{rel: filepath.Join("traffic", npra.LengthsFile)},
		{rel: filepath.Join("airquality", nilu.StationsFile)},
		{rel: filepath.Join("airquality", nilu.RawDir, "measurements_*.csv.gz"), glob: true},
		{rel: filepath.Join("airquality", nilu.MeasurementsCSV)},
		{rel: filepath.Join("airquality", nilu.MeasurementsPQ)},
		{rel: filepath.Join("utility", ssb.GDPFile)},
		{rel: filepath.Join("utility", ssb.CPIMonthlyFile)},
		{rel: filepath.Join("utility", ssb.CPIYearlyFile)},
		{rel: filepath.Join("utility", ssb.CentralityFile)},
		{rel: filepath.Join("utility", ssb.ChangesFile)},
		{rel: filepath.Join("utility", "munid_codes_*.csv"), glob: true},
		{rel: filepath.Join("utility", ssb.PopulationFile)},
		{rel: filepath.Join("utility", ssb.IncomeFile)},
		{rel: filepath.Join("entsoe", entsoe.GenerationFile)},
		{rel: filepath.Join("entsoe", entsoe.CapacityFile)},
		{rel: filepath.Join("entsoe", entsoe.LoadFile)},
		{rel: filepath.Join("entsoe", entsoe.RawDir, "gen_*.csv.gz"), glob: true},
		{rel: filepath.Join("entsoe", entsoe.UnitsDir, "A73_Nordic_Filled_Month_*.csv"), glob: true},
	}
}

func printInventory(root string) {
	fmt.Println(headStyle.Render("Files"))
	for _, e := range inventory() {
		if e.glob {
			printGlob(root, e.rel)
		} else {
			printFile(root, e.rel)
		}
	}
}

func printFile(root, rel string) {
	fi, err := os.Stat(filepath.Join(root, rel))
	if err != nil {
		fmt.Printf("  %-52s %s\n", rel, mutedStyle.Render("missing"))
		return
	}
	fmt.Printf("  %-52s %9s  %s\n", rel, byteSize(fi.Size()),
		fi.ModTime().Local().Format("2006-01-02 15:04"))
}

func printGlob(root, pattern string) {
	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil || len(matches) == 0 {
		fmt.Printf("  %-52s %s\n", pattern, mutedStyle.Render("none"))
		return
	}
	var total int64
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil {
			total += fi.Size()
		}
	}
	fmt.Printf("  %-52s %9s  %d files\n", pattern, byteSize(total), len(matches))
}

func byteSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
