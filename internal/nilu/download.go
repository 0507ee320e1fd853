package nilu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"nordata/internal/ledger"
	"nordata/internal/tabular"
)

// JobConfig controls one measurement download run.
type JobConfig struct {
	StoreDir string
	FromYear int
	ToYear   int
	// Station restricts the run to one station id. Zero means all.
	Station int
	DryRun  bool
}

// Job downloads observations for every station and year, one compressed
// checkpoint per station-year. Existing checkpoints are skipped, so a
// stopped run picks up where it left off.
type Job struct {
	client *Client
	led    *ledger.Ledger
	logger *zap.Logger
	cfg    JobConfig
}

func NewJob(client *Client, led *ledger.Ledger, logger *zap.Logger, cfg JobConfig) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ToYear <= 0 {
		cfg.ToYear = time.Now().Year()
	}
	return &Job{client: client, led: led, logger: logger, cfg: cfg}
}

// CheckpointPath names the per-station-year checkpoint file.
func CheckpointPath(storeDir string, stationID, year int) string {
	return filepath.Join(storeDir, RawDir, fmt.Sprintf("measurements_%d_%d.csv.gz", stationID, year))
}

// FetchStations downloads the lookup table and rewrites stations.csv.
func (j *Job) FetchStations(ctx context.Context, runID string) ([]Station, error) {
	start := time.Now()
	stations, err := j.client.Stations(ctx)
	if err != nil {
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "nilu", Unit: "stations",
			Status: ledger.StatusFailed, Err: err.Error(), Elapsed: time.Since(start),
		})
		return nil, err
	}

	path := filepath.Join(j.cfg.StoreDir, StationsFile)
	if err := tabular.WriteStructs(path, stations); err != nil {
		return nil, fmt.Errorf("failed to write stations: %w", err)
	}
	j.led.Record(ledger.Fetch{
		RunID: runID, Source: "nilu", Unit: "stations",
		Status: ledger.StatusOK, Rows: len(stations), Elapsed: time.Since(start),
	})
	j.logger.Info("wrote stations", zap.String("path", path), zap.Int("stations", len(stations)))
	return stations, nil
}

// LoadStations reads a previously saved lookup table.
func (j *Job) LoadStations() ([]Station, error) {
	return tabular.ReadStructsFile[Station](filepath.Join(j.cfg.StoreDir, StationsFile))
}

// Run downloads all missing station-year checkpoints, then consolidates
// them into measurements.csv and measurements.pq. Units that fail after
// retries are recorded and skipped.
func (j *Job) Run(ctx context.Context, runID string) error {
	stations, err := j.LoadStations()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load stations: %w", err)
		}
		if stations, err = j.FetchStations(ctx, runID); err != nil {
			return err
		}
	}

	var fetched, skipped, failed int
	for _, st := range stations {
		if j.cfg.Station != 0 && st.ID != j.cfg.Station {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		first, last, ok := st.YearRange()
		if !ok {
			j.logger.Warn("station has no measurement span",
				zap.Int("id", st.ID), zap.String("station", st.Name))
			continue
		}
		from := max(j.cfg.FromYear, first)
		to := min(j.cfg.ToYear, last)
		if from > to {
			continue
		}

		j.logger.Info("station", zap.Int("id", st.ID), zap.String("station", st.Name),
			zap.Int("from", from), zap.Int("to", to))

		for year := from; year <= to; year++ {
			cp := CheckpointPath(j.cfg.StoreDir, st.ID, year)
			if tabular.Exists(cp) {
				skipped++
				continue
			}
			if j.cfg.DryRun {
				fetched++
				continue
			}
			if err := j.downloadUnit(ctx, runID, st, year, cp); err != nil {
				failed++
				j.logger.Error("station-year failed, moving on",
					zap.Int("id", st.ID), zap.Int("year", year), zap.Error(err))
				continue
			}
			fetched++
		}
	}

	j.logger.Info("download pass done",
		zap.Int("fetched", fetched), zap.Int("skipped", skipped), zap.Int("failed", failed))
	if j.cfg.DryRun {
		return nil
	}
	return j.Consolidate()
}

func (j *Job) downloadUnit(ctx context.Context, runID string, st Station, year int, cp string) error {
	start := time.Now()
	unit := fmt.Sprintf("station %d year %d", st.ID, year)

	rows, err := j.client.Observations(ctx, st, year)
	if err != nil {
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "nilu", Unit: unit,
			Status: ledger.StatusFailed, Err: err.Error(), Elapsed: time.Since(start),
		})
		return err
	}

	// An empty checkpoint still marks the unit done so reruns skip it.
	if err := tabular.WriteGzipStructs(cp, rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", cp, err)
	}
	var size int64
	if fi, err := os.Stat(cp); err == nil {
		size = fi.Size()
	}
	j.led.Record(ledger.Fetch{
		RunID: runID, Source: "nilu", Unit: unit,
		Status: ledger.StatusOK, Rows: len(rows), Bytes: size, Elapsed: time.Since(start),
	})
	return nil
}

// Consolidate streams every checkpoint into the aggregated CSV and Parquet
// outputs.
func (j *Job) Consolidate() error {
	checkpoints, err := filepath.Glob(filepath.Join(j.cfg.StoreDir, RawDir, "measurements_*.csv.gz"))
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		j.logger.Info("no checkpoints to consolidate")
		return nil
	}

	csvPath := filepath.Join(j.cfg.StoreDir, MeasurementsCSV)
	if err := tabular.Consolidate(csvPath, checkpoints); err != nil {
		return fmt.Errorf("failed to consolidate csv: %w", err)
	}
	pqPath := filepath.Join(j.cfg.StoreDir, MeasurementsPQ)
	if err := tabular.ConsolidateParquet[Row](pqPath, checkpoints); err != nil {
		return fmt.Errorf("failed to consolidate parquet: %w", err)
	}
	j.logger.Info("consolidated measurements",
		zap.Int("checkpoints", len(checkpoints)),
		zap.String("csv", csvPath), zap.String("parquet", pqPath))
	return nil
}
