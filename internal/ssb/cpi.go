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

// Consumer price index outputs. The historical series run 1920 through 2024.
const (
	CPIMonthlyFile = "cpi_monthly_1920_2024.csv"
	CPIYearlyFile  = "cpi_yearly_1920_2024.csv"
)

const (
	tableCPIMonthly = "08981"
	tableCPIYearly  = "08184"
)

var months = []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10", "11", "12"}

// CPIMonthlyRow is the index value for one month. Months the series does not
// cover arrive as sentinels and keep an empty cpi cell.
type CPIMonthlyRow struct {
	Date string   `csv:"date"`
	CPI  *float64 `csv:"cpi"`
}

type CPIYearlyRow struct {
	Year int      `csv:"year"`
	CPI  *float64 `csv:"cpi"`
}

// CPIJob builds the monthly and yearly consumer price index files.
type CPIJob struct {
	px     *PxWeb
	led    *ledger.Ledger
	logger *zap.Logger
	dir    string
}

func NewCPIJob(px *PxWeb, led *ledger.Ledger, logger *zap.Logger, dir string) *CPIJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CPIJob{px: px, led: led, logger: logger, dir: dir}
}

func (j *CPIJob) Run(ctx context.Context, runID string) error {
	monthly, err := fetchTable(ctx, j.px, j.led, runID, tableCPIMonthly,
		SelectItems("Maaned", months...),
		SelectAll("Tid"))
	if err != nil {
		return err
	}
	rows, err := BuildCPIMonthly(monthly)
	if err != nil {
		return err
	}
	out := filepath.Join(j.dir, CPIMonthlyFile)
	if err := tabular.WriteStructs(out, rows); err != nil {
		return err
	}
	j.logger.Info("wrote monthly cpi", zap.String("path", out), zap.Int("rows", len(rows)))

	yearly, err := fetchTable(ctx, j.px, j.led, runID, tableCPIYearly,
		SelectAll("Tid"))
	if err != nil {
		return err
	}
	yrows, err := BuildCPIYearly(yearly)
	if err != nil {
		return err
	}
	out = filepath.Join(j.dir, CPIYearlyFile)
	if err := tabular.WriteStructs(out, yrows); err != nil {
		return err
	}
	j.logger.Info("wrote yearly cpi", zap.String("path", out), zap.Int("rows", len(yrows)))
	return nil
}

// BuildCPIMonthly turns the long Maaned-by-Tid table into date rows sorted
// chronologically. Maaned values arrive zero-padded, so the dates sort as
// strings.
func BuildCPIMonthly(frame *Frame) ([]CPIMonthlyRow, error) {
	rows := make([]CPIMonthlyRow, 0, len(frame.Rows))
	for _, row := range frame.Rows {
		year, month := row["Tid"], row["Maaned"]
		if year == "" || month == "" {
			return nil, fmt.Errorf("table %s: row without Tid or Maaned", tableCPIMonthly)
		}
		r := CPIMonthlyRow{Date: year + "-" + month + "-01"}
		if v, ok := ParseFloat(row[tableCPIMonthly]); ok {
			r.CPI = &v
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, k int) bool { return rows[i].Date < rows[k].Date })
	return rows, nil
}

func BuildCPIYearly(frame *Frame) ([]CPIYearlyRow, error) {
	rows := make([]CPIYearlyRow, 0, len(frame.Rows))
	for _, row := range frame.Rows {
		year, err := strconv.Atoi(row["Tid"])
		if err != nil {
			return nil, fmt.Errorf("table %s: bad year %q", tableCPIYearly, row["Tid"])
		}
		r := CPIYearlyRow{Year: year}
		if v, ok := ParseFloat(row[tableCPIYearly]); ok {
			r.CPI = &v
		}
		rows = append(rows, r)
	}
	return rows, nil
}
