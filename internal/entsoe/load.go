package entsoe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"nordata/internal/ledger"
	"nordata/internal/tabular"
)

// LoadRow is one row of entsoe_total_load_nordic.csv. Rows come on the
// platform's grid, hourly or quarter-hourly depending on zone and year.
type LoadRow struct {
	BZN      string   `csv:"bzn"`
	Datetime string   `csv:"datetime"`
	DayAhead *float64 `csv:"DayAhead"`
	Actual   *float64 `csv:"Actual"`
}

// RunLoad downloads day-ahead and actual total load per zone and year,
// merges the two series on their timestamps, and rewrites the load file.
// A side that fails after retries leaves its column empty for that
// zone-year; a 401 aborts the run.
func (j *Job) RunLoad(ctx context.Context, runID string) error {
	zones, err := j.zones()
	if err != nil {
		return err
	}
	if j.cfg.DryRun {
		j.logger.Info("dry run", zap.Int("zones", len(zones)),
			zap.Int("from", j.cfg.FromYear), zap.Int("to", j.cfg.ToYear))
		return nil
	}

	var rows []LoadRow
	for _, z := range zones {
		for year := j.cfg.FromYear; year <= j.cfg.ToYear; year++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			merged, err := j.loadZoneYear(ctx, runID, z, year)
			if err != nil {
				return err
			}
			rows = append(rows, merged...)

			// The load endpoint rate-limits aggressively; give it a
			// second between zone-years.
			if j.pause > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(j.pause):
				}
			}
		}
	}

	path := filepath.Join(j.cfg.StoreDir, LoadFile)
	if err := tabular.WriteStructs(path, rows); err != nil {
		return fmt.Errorf("failed to write load: %w", err)
	}
	j.logger.Info("wrote load", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

func (j *Job) loadZoneYear(ctx context.Context, runID string, z Zone, year int) ([]LoadRow, error) {
	ws, we := loadWindow(year)
	forecast, err := j.fetchLoad(ctx, runID, z, year, ProcDayAhead, "day-ahead", ws, we)
	if err != nil {
		return nil, err
	}
	actual, err := j.fetchLoad(ctx, runID, z, year, ProcRealised, "actual", ws, we)
	if err != nil {
		return nil, err
	}
	return mergeLoad(z.Name, forecast, actual), nil
}

// fetchLoad downloads one side of a zone-year. Failures past retries are
// recorded and yield an empty series so the other side still lands.
func (j *Job) fetchLoad(ctx context.Context, runID string, z Zone, year int, process, kind string, ws, we time.Time) ([]Value, error) {
	start := time.Now()
	unit := fmt.Sprintf("load %s %d %s", z.Name, year, kind)

	doc, err := j.client.Document(ctx, Params{
		Document:       DocSysLoad,
		Process:        process,
		OutBiddingZone: z.EIC,
		Start:          ws,
		End:            we,
	})
	switch {
	case errors.Is(err, ErrNoData):
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "entsoe", Unit: unit,
			Status: ledger.StatusSkipped, Err: "no data", Elapsed: time.Since(start),
		})
		return nil, nil
	case errors.Is(err, ErrUnauthorized):
		return nil, err
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "entsoe", Unit: unit,
			Status: ledger.StatusFailed, Err: err.Error(), Elapsed: time.Since(start),
		})
		j.logger.Warn("load fetch failed, continuing",
			zap.String("bzn", z.Name), zap.Int("year", year),
			zap.String("kind", kind), zap.Error(err))
		return nil, nil
	}

	values, err := doc.Values()
	if err != nil {
		return nil, err
	}
	j.led.Record(ledger.Fetch{
		RunID: runID, Source: "entsoe", Unit: unit,
		Status: ledger.StatusOK, Rows: len(values), Elapsed: time.Since(start),
	})
	return values, nil
}

// mergeLoad outer-joins the two series on their timestamps.
func mergeLoad(bzn string, forecast, actual []Value) []LoadRow {
	byTime := make(map[time.Time]*LoadRow, len(actual))
	row := func(t time.Time) *LoadRow {
		r, ok := byTime[t]
		if !ok {
			r = &LoadRow{BZN: bzn, Datetime: Stamp(t)}
			byTime[t] = r
		}
		return r
	}
	for _, v := range forecast {
		q := v.Quantity
		row(v.Time).DayAhead = &q
	}
	for _, v := range actual {
		q := v.Quantity
		row(v.Time).Actual = &q
	}

	times := make([]time.Time, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, k int) bool { return times[i].Before(times[k]) })

	rows := make([]LoadRow, 0, len(times))
	for _, t := range times {
		rows = append(rows, *byTime[t])
	}
	return rows
}
