// Package ssb downloads series from Statistics Norway: PxWeb tables in the
// csv3 format and the KLASS classification registry, and derives the macro,
// CPI and municipality files from them.
package ssb

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"nordata/internal/fetch"
	"nordata/internal/ledger"
)

// Query selects values along one dimension of a PxWeb table. A dimension
// left out of the request is eliminated (summed over) by the API.
type Query struct {
	Code      string    `json:"code"`
	Selection Selection `json:"selection"`
}

type Selection struct {
	Filter string   `json:"filter"`
	Values []string `json:"values"`
}

// SelectAll keeps every value of a dimension.
func SelectAll(code string) Query {
	return Query{Code: code, Selection: Selection{Filter: "all", Values: []string{"*"}}}
}

// SelectItems keeps the named values of a dimension.
func SelectItems(code string, values ...string) Query {
	return Query{Code: code, Selection: Selection{Filter: "item", Values: values}}
}

// SelectFilter keeps values under a named value set or aggregation, such as
// vs:Landet or agg:KommSummer.
func SelectFilter(code, filter string, values ...string) Query {
	return Query{Code: code, Selection: Selection{Filter: filter, Values: values}}
}

// SelectTop keeps the n most recent values of a dimension.
func SelectTop(code string, n int) Query {
	return Query{Code: code, Selection: Selection{Filter: "top", Values: []string{strconv.Itoa(n)}}}
}

type tableRequest struct {
	Query    []Query        `json:"query"`
	Response responseFormat `json:"response"`
}

type responseFormat struct {
	Format string `json:"format"`
}

// Frame is a parsed csv3 response: the header in order plus one map per
// row. Cells keep the API's text verbatim, including the missing-value
// sentinels, so each job can decide what they mean.
type Frame struct {
	Columns []string
	Rows    []map[string]string
}

// IsSentinel reports whether a csv3 cell marks a missing or suppressed
// value.
func IsSentinel(v string) bool {
	switch v {
	case "", ".", "..", ":":
		return true
	}
	return false
}

// ParseFloat parses a csv3 numeric cell. Sentinels report ok false.
func ParseFloat(v string) (float64, bool) {
	if IsSentinel(v) {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseCSV3 reads a csv3 body into a Frame. The BOM the API prefixes to the
// header is stripped.
func ParseCSV3(text string) (*Frame, error) {
	records, err := csv.NewReader(strings.NewReader(text)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv3: %w", err)
	}
	if len(records) == 0 {
		return &Frame{}, nil
	}

	cols := records[0]
	cols[0] = strings.TrimPrefix(cols[0], "\uFEFF")
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		m := make(map[string]string, len(cols))
		for i, c := range cols {
			m[c] = rec[i]
		}
		rows = append(rows, m)
	}
	return &Frame{Columns: cols, Rows: rows}, nil
}

// PxWeb posts table queries against the statistics bank.
type PxWeb struct {
	session *fetch.Session
	baseURL string
	logger  *zap.Logger
}

func NewPxWeb(baseURL string, session *fetch.Session, logger *zap.Logger) *PxWeb {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PxWeb{session: session, baseURL: baseURL, logger: logger}
}

// Table queries one table and parses the csv3 response.
func (c *PxWeb) Table(ctx context.Context, table string, query ...Query) (*Frame, error) {
	u := fmt.Sprintf("%s/v0/no/table/%s", c.baseURL, table)
	req := tableRequest{Query: query, Response: responseFormat{Format: "csv3"}}

	text, err := c.session.PostForText(ctx, u, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", table, err)
	}
	frame, err := ParseCSV3(text)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", table, err)
	}
	c.logger.Debug("fetched table", zap.String("table", table), zap.Int("rows", len(frame.Rows)))
	return frame, nil
}

// fetchTable queries one table and records the outcome in the run ledger.
func fetchTable(ctx context.Context, px *PxWeb, led *ledger.Ledger, runID, table string, query ...Query) (*Frame, error) {
	start := time.Now()
	frame, err := px.Table(ctx, table, query...)
	rows := 0
	if frame != nil {
		rows = len(frame.Rows)
	}
	recordTable(led, runID, "table "+table, start, rows, err)
	return frame, err
}

// recordTable logs one table or registry fetch to the run ledger.
func recordTable(led *ledger.Ledger, runID, unit string, start time.Time, rows int, err error) {
	f := ledger.Fetch{
		RunID:   runID,
		Source:  "ssb",
		Unit:    unit,
		Status:  ledger.StatusOK,
		Rows:    rows,
		Elapsed: time.Since(start),
	}
	if err != nil {
		f.Status = ledger.StatusFailed
		f.Err = err.Error()
		f.Rows = 0
	}
	led.Record(f)
}
