package npra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"nordata/internal/ledger"
	"nordata/internal/tabular"
)

// Output files under the traffic store directory.
const (
	CatalogFile  = "trafficregpoints.csv"
	TotalsFile   = "aggvol.csv"
	LengthsFile  = "lengthvol.csv"
	ProgressFile = "volume_progress.json"
)

// DownloadConfig controls one volume download run.
type DownloadConfig struct {
	StoreDir    string
	WindowHours int
	// StartIndex is a position in the eligible-station list, not a station
	// id. Negative means automatic: 0, or the saved progress when Resume
	// is set.
	StartIndex int
	Resume     bool
	// Station restricts the run to a single point id, e.g. "97411V72313".
	Station string
	DryRun  bool
}

// Downloader walks the station catalog and appends hourly volumes to the
// two long-format CSVs. Volume files are append-only, so positions already
// processed must not be revisited; the progress file records how far a run
// got.
type Downloader struct {
	client *Client
	led    *ledger.Ledger
	logger *zap.Logger
	cfg    DownloadConfig
}

func NewDownloader(client *Client, led *ledger.Ledger, logger *zap.Logger, cfg DownloadConfig) *Downloader {
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{client: client, led: led, logger: logger, cfg: cfg}
}

// FetchStations downloads the registration-point catalog and rewrites
// trafficregpoints.csv.
func (d *Downloader) FetchStations(ctx context.Context, runID string) ([]Station, error) {
	start := time.Now()
	stations, err := d.client.FetchStations(ctx)
	if err != nil {
		d.led.Record(ledger.Fetch{
			RunID: runID, Source: "npra", Unit: "stations",
			Status: ledger.StatusFailed, Err: err.Error(), Elapsed: time.Since(start),
		})
		return nil, err
	}

	path := filepath.Join(d.cfg.StoreDir, CatalogFile)
	if err := tabular.WriteStructs(path, stations); err != nil {
		return nil, fmt.Errorf("failed to write station catalog: %w", err)
	}
	d.led.Record(ledger.Fetch{
		RunID: runID, Source: "npra", Unit: "stations",
		Status: ledger.StatusOK, Rows: len(stations), Elapsed: time.Since(start),
	})
	d.logger.Info("wrote station catalog", zap.String("path", path), zap.Int("stations", len(stations)))
	return stations, nil
}

// LoadStations reads a previously saved catalog.
func (d *Downloader) LoadStations() ([]Station, error) {
	return tabular.ReadStructsFile[Station](filepath.Join(d.cfg.StoreDir, CatalogFile))
}

// Run downloads hourly volumes for every eligible station, resuming where
// an earlier run stopped. Stations whose windows keep failing are recorded
// and skipped rather than aborting the whole run.
func (d *Downloader) Run(ctx context.Context, runID string) error {
	stations, err := d.LoadStations()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load station catalog: %w", err)
		}
		if stations, err = d.FetchStations(ctx, runID); err != nil {
			return err
		}
	}

	// Stations that never produced data have nothing to fetch.
	eligible := make([]Station, 0, len(stations))
	for _, st := range stations {
		if st.FirstTime == "" {
			continue
		}
		if d.cfg.Station != "" && st.NPRAID != d.cfg.Station {
			continue
		}
		eligible = append(eligible, st)
	}

	start, err := d.startPosition(len(eligible))
	if err != nil {
		return err
	}
	if start >= len(eligible) {
		d.logger.Info("nothing to do", zap.Int("stations", len(eligible)), zap.Int("start", start))
		return nil
	}

	d.logger.Info("downloading hourly volumes",
		zap.Int("stations", len(eligible)-start),
		zap.Int("start", start),
		zap.Int("window_hours", d.cfg.WindowHours))
	if d.cfg.DryRun {
		return nil
	}

	totalsPath := filepath.Join(d.cfg.StoreDir, TotalsFile)
	lengthsPath := filepath.Join(d.cfg.StoreDir, LengthsFile)
	if err := tabular.EnsureCSV[VolumeRow](totalsPath); err != nil {
		return err
	}
	if err := tabular.EnsureCSV[LengthRow](lengthsPath); err != nil {
		return err
	}

	now := time.Now().In(cet)
	var failed int
	for pos := start; pos < len(eligible); pos++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := eligible[pos]
		if err := d.downloadStation(ctx, runID, st, now, totalsPath, lengthsPath); err != nil {
			failed++
			d.logger.Error("station failed, moving on",
				zap.Int("id", st.ID), zap.String("npra_id", st.NPRAID), zap.Error(err))
		}
		// Advance even past failures: the volume files are append-only
		// and the failure is on record for a targeted re-fetch.
		if d.cfg.Station == "" {
			if err := d.saveProgress(pos+1, len(eligible)); err != nil {
				d.logger.Warn("could not save progress", zap.Error(err))
			}
		}
	}

	if failed > 0 {
		d.logger.Warn("run finished with failed stations", zap.Int("failed", failed))
	}
	return nil
}

func (d *Downloader) downloadStation(ctx context.Context, runID string, st Station, now time.Time, totalsPath, lengthsPath string) error {
	start := time.Now()

	first, err := time.Parse(time.RFC3339, st.FirstTime)
	if err != nil {
		d.led.Record(ledger.Fetch{
			RunID: runID, Source: "npra", Unit: st.NPRAID,
			Status: ledger.StatusSkipped, Err: "unparseable firsttime: " + st.FirstTime,
		})
		d.logger.Warn("skipping station with unparseable firsttime",
			zap.Int("id", st.ID), zap.String("firsttime", st.FirstTime))
		return nil
	}
	last := now
	if st.LastHour != "" {
		if t, err := time.Parse(time.RFC3339, st.LastHour); err == nil {
			last = t
		}
	}

	d.logger.Info("station",
		zap.Int("id", st.ID), zap.String("npra_id", st.NPRAID),
		zap.String("from", FormatHour(first)), zap.String("to", FormatHour(last)))

	var rows int
	for _, w := range Windows(first, last, d.cfg.WindowHours) {
		nodes, err := d.client.HourlyVolumes(ctx, st.NPRAID, w.From, w.To)
		if err != nil {
			d.led.Record(ledger.Fetch{
				RunID: runID, Source: "npra",
				Unit:    fmt.Sprintf("%s %s", st.NPRAID, FormatHour(w.From)),
				Status:  ledger.StatusFailed,
				Rows:    rows,
				Err:     err.Error(),
				Elapsed: time.Since(start),
			})
			return err
		}
		if len(nodes) == 0 {
			continue
		}

		totals := make([]VolumeRow, 0, len(nodes))
		lengths := make([]LengthRow, 0, len(nodes)*len(LengthCategories))
		for _, n := range nodes {
			totals = append(totals, TotalRow(st.ID, n))
			lengths = append(lengths, LengthRows(st.ID, n)...)
		}
		if err := tabular.AppendStructs(totalsPath, totals); err != nil {
			return err
		}
		if err := tabular.AppendStructs(lengthsPath, lengths); err != nil {
			return err
		}
		rows += len(totals)
	}

	d.led.Record(ledger.Fetch{
		RunID: runID, Source: "npra", Unit: st.NPRAID,
		Status: ledger.StatusOK, Rows: rows, Elapsed: time.Since(start),
	})
	return nil
}

// progress is the resume marker. NextIndex is the first unprocessed
// position in the eligible-station list.
type progress struct {
	NextIndex int       `json:"next_index"`
	Stations  int       `json:"stations"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d *Downloader) progressPath() string {
	return filepath.Join(d.cfg.StoreDir, ProgressFile)
}

func (d *Downloader) startPosition(eligible int) (int, error) {
	if d.cfg.StartIndex >= 0 {
		return d.cfg.StartIndex, nil
	}
	if !d.cfg.Resume || d.cfg.Station != "" {
		return 0, nil
	}

	raw, err := os.ReadFile(d.progressPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read progress: %w", err)
	}
	var p progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", ProgressFile, err)
	}
	if p.Stations != eligible {
		d.logger.Warn("station catalog changed since last run",
			zap.Int("was", p.Stations), zap.Int("now", eligible))
	}
	if p.NextIndex < 0 || p.NextIndex > eligible {
		return 0, fmt.Errorf("progress index %d out of range (0..%d)", p.NextIndex, eligible)
	}
	d.logger.Info("resuming", zap.Int("next_index", p.NextIndex))
	return p.NextIndex, nil
}

func (d *Downloader) saveProgress(next, eligible int) error {
	raw, err := json.Marshal(progress{NextIndex: next, Stations: eligible, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	tmp := d.progressPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, d.progressPath())
}
