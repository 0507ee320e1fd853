package entsoe

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

// GenRow is one row of nordic_hourly_gen_prodtype.csv and of the
// zone-year checkpoints it is built from.
type GenRow struct {
	BZN       string  `csv:"bzn"`
	ProdType  string  `csv:"prodtype"`
	Timestamp string  `csv:"timestamp"`
	Quantity  float64 `csv:"quantity"`
}

// CapacityRow is one row of nordic_installed_capacities.csv. Year is the
// requested year, not the interval start, which for the Nordic areas falls
// an hour before midnight in UTC.
type CapacityRow struct {
	BZN      string  `csv:"bzn"`
	ProdType string  `csv:"prodtype"`
	Year     int     `csv:"year"`
	Quantity float64 `csv:"quantity"`
}

// RunGeneration downloads hourly generation per production type for every
// missing zone-year checkpoint, then consolidates the checkpoints into the
// generation file. Zone-years that fail after retries are recorded and
// skipped; a 401 aborts the run.
func (j *Job) RunGeneration(ctx context.Context, runID string) error {
	zones, err := j.zones()
	if err != nil {
		return err
	}

	var fetched, skipped, failed int
	for _, z := range zones {
		for year := j.cfg.FromYear; year <= j.cfg.ToYear; year++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			cp := GenCheckpointPath(j.cfg.StoreDir, z.Name, year)
			if tabular.Exists(cp) {
				skipped++
				continue
			}
			if j.cfg.DryRun {
				fetched++
				continue
			}
			if err := j.downloadGenYear(ctx, runID, z, year, cp); err != nil {
				if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
					return err
				}
				failed++
				j.logger.Error("zone-year failed, moving on",
					zap.String("bzn", z.Name), zap.Int("year", year), zap.Error(err))
				continue
			}
			fetched++
		}
	}

	j.logger.Info("generation pass done",
		zap.Int("fetched", fetched), zap.Int("skipped", skipped), zap.Int("failed", failed))
	if j.cfg.DryRun {
		return nil
	}
	return j.ConsolidateGeneration()
}

func (j *Job) downloadGenYear(ctx context.Context, runID string, z Zone, year int, cp string) error {
	start := time.Now()
	unit := fmt.Sprintf("generation %s %d", z.Name, year)
	ws, we := yearWindow(year)

	doc, err := j.client.Document(ctx, Params{
		Document: DocActGenType,
		Process:  ProcRealised,
		InDomain: z.EIC,
		Start:    ws,
		End:      we,
	})
	var rows []GenRow
	noData := false
	switch {
	case errors.Is(err, ErrNoData):
		// An empty checkpoint still marks the zone-year done.
		noData = true
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "entsoe", Unit: unit,
			Status: ledger.StatusSkipped, Err: "no data", Elapsed: time.Since(start),
		})
	case err != nil:
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "entsoe", Unit: unit,
			Status: ledger.StatusFailed, Err: err.Error(), Elapsed: time.Since(start),
		})
		return err
	default:
		values, verr := doc.Values()
		if verr != nil {
			j.led.Record(ledger.Fetch{
				RunID: runID, Source: "entsoe", Unit: unit,
				Status: ledger.StatusFailed, Err: verr.Error(), Elapsed: time.Since(start),
			})
			return verr
		}
		rows = make([]GenRow, 0, len(values))
		for _, v := range values {
			rows = append(rows, GenRow{
				BZN:       z.Name,
				ProdType:  PSRShort(v.PSRType),
				Timestamp: Stamp(v.Time),
				Quantity:  v.Quantity,
			})
		}
	}

	if err := tabular.WriteGzipStructs(cp, rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", cp, err)
	}
	if !noData {
		var size int64
		if fi, err := os.Stat(cp); err == nil {
			size = fi.Size()
		}
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "entsoe", Unit: unit,
			Status: ledger.StatusOK, Rows: len(rows), Bytes: size, Elapsed: time.Since(start),
		})
	}
	return nil
}

// ConsolidateGeneration streams every zone-year checkpoint into the
// consolidated generation file.
func (j *Job) ConsolidateGeneration() error {
	checkpoints, err := filepath.Glob(filepath.Join(j.cfg.StoreDir, RawDir, "gen_*.csv.gz"))
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		j.logger.Info("no generation checkpoints to consolidate")
		return nil
	}

	path := filepath.Join(j.cfg.StoreDir, GenerationFile)
	if err := tabular.Consolidate(path, checkpoints); err != nil {
		return fmt.Errorf("failed to consolidate generation: %w", err)
	}
	j.logger.Info("consolidated generation",
		zap.Int("checkpoints", len(checkpoints)), zap.String("path", path))
	return nil
}

// RunCapacity downloads year-ahead installed capacity per production type
// for every zone-year and rewrites the capacity file. The output is
// derived from all slices at once, so any failure aborts the run.
func (j *Job) RunCapacity(ctx context.Context, runID string) error {
	zones, err := j.zones()
	if err != nil {
		return err
	}
	if j.cfg.DryRun {
		j.logger.Info("dry run", zap.Int("zones", len(zones)),
			zap.Int("from", j.cfg.FromYear), zap.Int("to", j.cfg.ToYear))
		return nil
	}

	var rows []CapacityRow
	for _, z := range zones {
		for year := j.cfg.FromYear; year <= j.cfg.ToYear; year++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			yearRows, err := j.fetchCapacity(ctx, runID, z, year)
			if err != nil {
				return err
			}
			rows = append(rows, yearRows...)
		}
	}

	path := filepath.Join(j.cfg.StoreDir, CapacityFile)
	if err := tabular.WriteStructs(path, rows); err != nil {
		return fmt.Errorf("failed to write capacities: %w", err)
	}
	j.logger.Info("wrote capacities", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

func (j *Job) fetchCapacity(ctx context.Context, runID string, z Zone, year int) ([]CapacityRow, error) {
	start := time.Now()
	unit := fmt.Sprintf("capacity %s %d", z.Name, year)
	ws, we := yearWindow(year)

	doc, err := j.client.Document(ctx, Params{
		Document: DocGenType,
		Process:  ProcYearAhead,
		InDomain: z.EIC,
		Start:    ws,
		End:      we,
	})
	switch {
	case errors.Is(err, ErrNoData):
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "entsoe", Unit: unit,
			Status: ledger.StatusSkipped, Err: "no data", Elapsed: time.Since(start),
		})
		return nil, nil
	case err != nil:
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "entsoe", Unit: unit,
			Status: ledger.StatusFailed, Err: err.Error(), Elapsed: time.Since(start),
		})
		return nil, err
	}

	values, err := doc.Values()
	if err != nil {
		return nil, err
	}
	rows := make([]CapacityRow, 0, len(values))
	for _, v := range values {
		rows = append(rows, CapacityRow{
			BZN:      z.Name,
			ProdType: PSRShort(v.PSRType),
			Year:     year,
			Quantity: v.Quantity,
		})
	}
	j.led.Record(ledger.Fetch{
		RunID: runID, Source: "entsoe", Unit: unit,
		Status: ledger.StatusOK, Rows: len(rows), Elapsed: time.Since(start),
	})
	return rows, nil
}
