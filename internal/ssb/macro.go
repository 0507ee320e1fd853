package ssb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"nordata/internal/ledger"
	"nordata/internal/tabular"
)

// GDPFile holds the joined quarterly GDP and population series.
const GDPFile = "gdp_population.csv"

// Source tables for the macro series.
const (
	tableGDP  = "09190"
	tableQPop = "01222"
	tableYPop = "06913"
)

// The quarterly population series begins 1997K4. Earlier quarters are
// interpolated between yearly anchors, back to 1977Q4.
var (
	interpFrom = Quarter{Year: 1977, Q: 4}
	spliceAt   = Quarter{Year: 1997, Q: 4}
)

// MacroRow is one quarter of the joined GDP and population series.
type MacroRow struct {
	Time        string   `csv:"time"`
	GDP         *float64 `csv:"gdp"`
	GDPMainland *float64 `csv:"gdp_mainland"`
	Population  float64  `csv:"population"`
}

// MacroJob builds the quarterly GDP and population file.
type MacroJob struct {
	px     *PxWeb
	led    *ledger.Ledger
	logger *zap.Logger
	dir    string
}

func NewMacroJob(px *PxWeb, led *ledger.Ledger, logger *zap.Logger, dir string) *MacroJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MacroJob{px: px, led: led, logger: logger, dir: dir}
}

// Run fetches the three source tables and writes the joined series. The
// output is derived from complete tables, so any failed fetch aborts the
// run rather than leaving a partial file behind.
func (j *MacroJob) Run(ctx context.Context, runID string) error {
	gdp, err := fetchTable(ctx, j.px, j.led, runID, tableGDP,
		SelectItems("Makrost", "bnpb.nr23_9", "bnpb.nr23_9fn"),
		SelectItems("ContentsCode", "FastePriserSesJust"))
	if err != nil {
		return err
	}
	qpop, err := fetchTable(ctx, j.px, j.led, runID, tableQPop,
		SelectFilter("Region", "vs:Landet", "0"),
		SelectItems("ContentsCode", "Folketallet11"))
	if err != nil {
		return err
	}
	ypop, err := fetchTable(ctx, j.px, j.led, runID, tableYPop,
		SelectFilter("Region", "vs:Landet", "0"),
		SelectItems("ContentsCode", "Folkemengde"))
	if err != nil {
		return err
	}

	rows, err := BuildMacro(gdp, qpop, ypop)
	if err != nil {
		return err
	}
	out := filepath.Join(j.dir, GDPFile)
	if err := tabular.WriteStructs(out, rows); err != nil {
		return err
	}
	j.logger.Info("wrote macro series", zap.String("path", out), zap.Int("rows", len(rows)))
	return nil
}

// BuildMacro pivots the GDP table into gdp and gdp_mainland columns and
// inner-joins it with the stitched population series on quarter.
func BuildMacro(gdp, qpop, ypop *Frame) ([]MacroRow, error) {
	type pair struct {
		gdp      *float64
		mainland *float64
	}
	pairs := map[int]*pair{}
	var quarters []int
	for _, row := range gdp.Rows {
		q, err := ParseQuarter(row["Tid"])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", tableGDP, err)
		}
		p := pairs[q.Index()]
		if p == nil {
			p = &pair{}
			pairs[q.Index()] = p
			quarters = append(quarters, q.Index())
		}
		v, ok := ParseFloat(row[tableGDP])
		if !ok {
			continue
		}
		switch row["Makrost"] {
		case "bnpb.nr23_9":
			p.gdp = &v
		case "bnpb.nr23_9fn":
			p.mainland = &v
		}
	}
	sort.Ints(quarters)

	pop, err := populationSeries(qpop, ypop)
	if err != nil {
		return nil, err
	}

	rows := make([]MacroRow, 0, len(quarters))
	for _, qi := range quarters {
		p, ok := pop[qi]
		if !ok {
			continue
		}
		rows = append(rows, MacroRow{
			Time:        QuarterFromIndex(qi).String(),
			GDP:         pairs[qi].gdp,
			GDPMainland: pairs[qi].mainland,
			Population:  p,
		})
	}
	return rows, nil
}

// populationSeries stitches the quarterly population onto interpolated
// yearly anchors. A yearly count is a start-of-year figure, so year y is
// pegged to quarter (y-1)Q4. The 1997Q4 anchor is replaced by the quarterly
// series' first point before interpolating, so the two halves meet without
// a step.
func populationSeries(qpop, ypop *Frame) (map[int]float64, error) {
	quarterly := map[int]float64{}
	for _, row := range qpop.Rows {
		q, err := ParseQuarter(row["Tid"])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", tableQPop, err)
		}
		if v, ok := ParseFloat(row[tableQPop]); ok {
			quarterly[q.Index()] = v
		}
	}

	anchors := map[int]float64{}
	for _, row := range ypop.Rows {
		year, err := strconv.Atoi(row["Tid"])
		if err != nil {
			return nil, fmt.Errorf("table %s: bad year %q", tableYPop, row["Tid"])
		}
		if v, ok := ParseFloat(row[tableYPop]); ok {
			anchors[Quarter{Year: year - 1, Q: 4}.Index()] = v
		}
	}
	if v, ok := quarterly[spliceAt.Index()]; ok {
		anchors[spliceAt.Index()] = v
	}

	series := interpolateQuarters(anchors, interpFrom.Index(), spliceAt.Index())
	for qi, v := range quarterly {
		series[qi] = v
	}
	return series, nil
}

// interpolateQuarters fills every quarter in [lo, hi] lying between two
// anchors by linear interpolation. Anchor quarters keep their own value.
func interpolateQuarters(anchors map[int]float64, lo, hi int) map[int]float64 {
	idx := make([]int, 0, len(anchors))
	for qi := range anchors {
		idx = append(idx, qi)
	}
	sort.Ints(idx)

	out := map[int]float64{}
	for i := 0; i+1 < len(idx); i++ {
		a, b := idx[i], idx[i+1]
		if b < lo || a > hi {
			continue
		}
		for qi := a; qi <= b; qi++ {
			if qi < lo || qi > hi {
				continue
			}
			frac := float64(qi-a) / float64(b-a)
			out[qi] = anchors[a] + (anchors[b]-anchors[a])*frac
		}
	}
	for qi, v := range anchors {
		if qi >= lo && qi <= hi {
			out[qi] = v
		}
	}
	return out
}
