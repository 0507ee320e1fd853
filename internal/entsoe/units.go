package entsoe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nordata/internal/ledger"
	"nordata/internal/tabular"
)

// UnitRow is one row of a monthly per-unit generation file. MW is nil for
// filled hours where the platform had nothing.
type UnitRow struct {
	Datetime string   `csv:"datetime"`
	Country  string   `csv:"country"`
	Type     string   `csv:"Type"`
	Unit     string   `csv:"Generation Unit"`
	MW       *float64 `csv:"generation_MW"`
}

type unitPair struct {
	Type string
	Name string
}

// unitCache remembers the units seen for one control area, so days the
// platform had nothing for can be filled in the right shape.
type unitCache struct {
	mu    sync.Mutex
	pairs []unitPair
	seen  map[unitPair]bool
}

func (c *unitCache) add(p unitPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[unitPair]bool)
	}
	if !c.seen[p] {
		c.seen[p] = true
		c.pairs = append(c.pairs, p)
	}
}

func (c *unitCache) snapshot() []unitPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]unitPair, len(c.pairs))
	copy(out, c.pairs)
	return out
}

// RunUnits downloads actual generation per unit for every missing month.
// Each month covers the four control areas in turn, the days of the month
// fetched through a bounded worker pool. A month whose file exists is
// skipped.
func (j *Job) RunUnits(ctx context.Context, runID string) error {
	months, err := monthRange(j.cfg.UnitsFrom, j.cfg.UnitsTo)
	if err != nil {
		return err
	}

	var fetched, skipped int
	for _, month := range months {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := MonthFilePath(j.cfg.StoreDir, month)
		if tabular.Exists(path) {
			skipped++
			continue
		}
		if j.cfg.DryRun {
			fetched++
			continue
		}
		if err := j.downloadMonth(ctx, runID, month, path); err != nil {
			return err
		}
		fetched++
	}

	j.logger.Info("per-unit pass done",
		zap.Int("fetched", fetched), zap.Int("skipped", skipped))
	return nil
}

func (j *Job) downloadMonth(ctx context.Context, runID string, month time.Time, path string) error {
	j.logger.Info("month", zap.String("month", month.Format("2006-01")))

	var rows []UnitRow
	for _, area := range ControlAreas {
		areaRows, err := j.downloadAreaMonth(ctx, runID, area, month)
		if err != nil {
			return err
		}
		rows = append(rows, areaRows...)
	}

	sort.Slice(rows, func(i, k int) bool {
		a, b := rows[i], rows[k]
		if a.Datetime != b.Datetime {
			return a.Datetime < b.Datetime
		}
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Unit < b.Unit
	})

	if err := tabular.WriteStructs(path, rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	j.logger.Info("wrote month", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

// downloadAreaMonth fetches one control area's days concurrently, bounded
// by DayWorkers, and returns the rows in day order.
func (j *Job) downloadAreaMonth(ctx context.Context, runID string, area Zone, month time.Time) ([]UnitRow, error) {
	start := time.Now()
	unit := fmt.Sprintf("units %s %s", area.Name, month.Format("2006-01"))
	days := month.AddDate(0, 1, -1).Day()
	byDay := make([][]UnitRow, days)
	cache := &unitCache{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.DayWorkers)
	for d := 0; d < days; d++ {
		d := d // per-iteration copy; required while the go directive is below 1.22
		g.Go(func() error {
			day := month.AddDate(0, 0, d)
			rows, err := j.fetchDay(gctx, area, day, cache)
			if err != nil {
				return err
			}
			byDay[d] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		j.led.Record(ledger.Fetch{
			RunID: runID, Source: "entsoe", Unit: unit,
			Status: ledger.StatusFailed, Err: err.Error(), Elapsed: time.Since(start),
		})
		return nil, err
	}

	var rows []UnitRow
	for _, day := range byDay {
		rows = append(rows, day...)
	}
	j.led.Record(ledger.Fetch{
		RunID: runID, Source: "entsoe", Unit: unit,
		Status: ledger.StatusOK, Rows: len(rows), Elapsed: time.Since(start),
	})
	return rows, nil
}

// fetchDay downloads one day window. Days with no data, and days that
// still fail after retries, are filled from the unit cache so the month
// grid stays complete.
func (j *Job) fetchDay(ctx context.Context, area Zone, day time.Time, cache *unitCache) ([]UnitRow, error) {
	doc, err := j.client.Document(ctx, Params{
		Document: DocActGen,
		Process:  ProcRealised,
		InDomain: area.EIC,
		Start:    day,
		End:      day.AddDate(0, 0, 1),
	})
	switch {
	case errors.Is(err, ErrNoData):
		return fillDay(area.Name, day, cache.snapshot()), nil
	case errors.Is(err, ErrUnauthorized):
		return nil, err
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		j.logger.Warn("day failed, filling",
			zap.String("area", area.Name),
			zap.String("day", day.Format("2006-01-02")), zap.Error(err))
		return fillDay(area.Name, day, cache.snapshot()), nil
	}

	values, err := doc.Values()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return fillDay(area.Name, day, cache.snapshot()), nil
	}

	rows := make([]UnitRow, 0, len(values))
	for _, v := range values {
		p := unitPair{Type: PSRShort(v.PSRType), Name: v.Unit}
		cache.add(p)
		mw := v.Quantity
		rows = append(rows, UnitRow{
			Datetime: Stamp(v.Time),
			Country:  area.Name,
			Type:     p.Type,
			Unit:     p.Name,
			MW:       &mw,
		})
	}
	return rows, nil
}

// fillDay builds placeholder rows for a day without data, one per hour
// and cached unit. Before any unit is known the day still gets an empty
// row per hour so the grid stays complete.
func fillDay(country string, day time.Time, units []unitPair) []UnitRow {
	if len(units) == 0 {
		units = []unitPair{{}}
	}
	rows := make([]UnitRow, 0, 24*len(units))
	for h := 0; h < 24; h++ {
		stamp := Stamp(day.Add(time.Duration(h) * time.Hour))
		for _, u := range units {
			rows = append(rows, UnitRow{
				Datetime: stamp,
				Country:  country,
				Type:     u.Type,
				Unit:     u.Name,
			})
		}
	}
	return rows
}

// monthRange lists the first-of-month days from from through to, both
// YYYY-MM inclusive.
func monthRange(from, to string) ([]time.Time, error) {
	first, err := time.Parse("2006-01", from)
	if err != nil {
		return nil, fmt.Errorf("bad month %q: %w", from, err)
	}
	last, err := time.Parse("2006-01", to)
	if err != nil {
		return nil, fmt.Errorf("bad month %q: %w", to, err)
	}
	if last.Before(first) {
		return nil, fmt.Errorf("month range %s..%s is backwards", from, to)
	}
	var out []time.Time
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		out = append(out, m)
	}
	return out, nil
}
