// Package entsoe downloads Nordic electricity data from the ENTSO-E
// transparency platform: hourly generation per production type, year-ahead
// installed capacity, total load, and generation per unit, checkpointed
// per zone-year or per month.
package entsoe

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"nordata/internal/ledger"
)

// Output files under the electricity store directory.
const (
	RawDir         = "raw"
	UnitsDir       = "units"
	GenerationFile = "nordic_hourly_gen_prodtype.csv"
	CapacityFile   = "nordic_installed_capacities.csv"
	LoadFile       = "entsoe_total_load_nordic.csv"
)

// JobConfig controls the download runs.
type JobConfig struct {
	StoreDir string
	FromYear int
	ToYear   int
	// Zones restricts the bidding zones. Empty means all Nordic zones.
	Zones []string
	// UnitsFrom and UnitsTo bound the per-unit job, YYYY-MM inclusive.
	UnitsFrom string
	UnitsTo   string
	// DayWorkers is how many day windows run concurrently per control area.
	DayWorkers int
	DryRun     bool
}

// Job runs the four platform downloads. Generation checkpoints per
// zone-year and the per-unit job per month; existing files are skipped, so
// a stopped run picks up where it left off.
type Job struct {
	client *Client
	led    *ledger.Ledger
	logger *zap.Logger
	cfg    JobConfig

	// pause between load zone-years, shortened in tests.
	pause time.Duration
}

func NewJob(client *Client, led *ledger.Ledger, logger *zap.Logger, cfg JobConfig) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FromYear <= 0 {
		cfg.FromYear = 2014
	}
	if cfg.ToYear <= 0 {
		cfg.ToYear = 2024
	}
	if cfg.UnitsFrom == "" {
		cfg.UnitsFrom = "2014-01"
	}
	if cfg.UnitsTo == "" {
		cfg.UnitsTo = "2025-06"
	}
	if cfg.DayWorkers <= 0 {
		cfg.DayWorkers = 2
	}
	return &Job{client: client, led: led, logger: logger, cfg: cfg, pause: time.Second}
}

// zones resolves the configured bidding zone names.
func (j *Job) zones() ([]Zone, error) {
	if len(j.cfg.Zones) == 0 {
		return NordicZones, nil
	}
	out := make([]Zone, 0, len(j.cfg.Zones))
	for _, name := range j.cfg.Zones {
		eic, ok := zoneEIC[name]
		if !ok {
			return nil, fmt.Errorf("unknown bidding zone %q", name)
		}
		out = append(out, Zone{Name: name, EIC: eic})
	}
	return out, nil
}

// yearWindow bounds one generation or capacity request, 1 January 00:00
// through 31 December 00:00 UTC.
func yearWindow(year int) (time.Time, time.Time) {
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)
}

// loadWindow bounds one load request, running through the last full hour
// of the year.
func loadWindow(year int) (time.Time, time.Time) {
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, 12, 31, 23, 0, 0, 0, time.UTC)
}

// MonthFilePath names the checkpoint-and-output file for one month of
// per-unit generation.
func MonthFilePath(storeDir string, month time.Time) string {
	name := fmt.Sprintf("A73_Nordic_Filled_Month_%s.csv", month.Format("2006-01"))
	return filepath.Join(storeDir, UnitsDir, name)
}

// GenCheckpointPath names the per-zone-year generation checkpoint.
func GenCheckpointPath(storeDir, bzn string, year int) string {
	return filepath.Join(storeDir, RawDir, fmt.Sprintf("gen_%s_%d.csv.gz", bzn, year))
}
