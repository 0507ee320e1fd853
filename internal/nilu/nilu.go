// Package nilu downloads air-quality data from api.nilu.no: the station
// lookup table and historical observations, checkpointed per station-year.
package nilu

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"nordata/internal/fetch"
)

// Output files under the air-quality store directory.
const (
	StationsFile    = "stations.csv"
	RawDir          = "raw"
	MeasurementsCSV = "measurements.csv"
	MeasurementsPQ  = "measurements.pq"
)

// Station is one row of stations.csv, mirroring /lookup/stations. The API
// spells it "Measurment" and the files keep that spelling.
type Station struct {
	ID              int     `json:"id" csv:"id"`
	Zone            string  `json:"zone" csv:"zone"`
	Municipality    string  `json:"municipality" csv:"municipality"`
	Area            string  `json:"area" csv:"area"`
	Name            string  `json:"station" csv:"station"`
	EOI             string  `json:"eoi" csv:"eoi"`
	Type            string  `json:"type" csv:"type"`
	Latitude        float64 `json:"latitude" csv:"latitude"`
	Longitude       float64 `json:"longitude" csv:"longitude"`
	Components      string  `json:"components" csv:"components"`
	FirstMeasurment string  `json:"firstMeasurment" csv:"firstMeasurment"`
	LastMeasurment  string  `json:"lastMeasurment" csv:"lastMeasurment"`
}

// YearRange returns the closed year span the station has data for. ok is
// false when either bound is missing or unparseable.
func (s Station) YearRange() (first, last int, ok bool) {
	ft, ok1 := ParseTime(s.FirstMeasurment)
	lt, ok2 := ParseTime(s.LastMeasurment)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return ft.Year(), lt.Year(), true
}

// Row is one observation as written to the checkpoints and the consolidated
// outputs. Time is UTC, fromTime preferred over toTime.
type Row struct {
	Component string   `csv:"component" parquet:"component"`
	ID        int      `csv:"id" parquet:"id"`
	Time      string   `csv:"time" parquet:"time"`
	Value     *float64 `csv:"value" parquet:"value,optional"`
	Unit      string   `csv:"unit" parquet:"unit"`
	Coverage  *float64 `csv:"coverage" parquet:"coverage,optional"`
}

// series is one component block of an /obs/historical response.
type series struct {
	Component string `json:"component"`
	Unit      string `json:"unit"`
	Values    []struct {
		FromTime string   `json:"fromTime"`
		ToTime   string   `json:"toTime"`
		Value    *float64 `json:"value"`
		Coverage *float64 `json:"coverage"`
	} `json:"values"`
}

// ParseTime reads the timestamp spellings the API uses. Naive timestamps
// are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// utcString renders a parsed timestamp the way the measurement files spell
// time. Unparseable input stays an empty cell.
func utcString(s string) string {
	t, ok := ParseTime(s)
	if !ok {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Client talks to the NILU REST API.
type Client struct {
	session *fetch.Session
	baseURL string
	logger  *zap.Logger
}

func NewClient(baseURL string, session *fetch.Session, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{session: session, baseURL: baseURL, logger: logger}
}

// Stations downloads the lookup table. First/last measurement times are
// normalized to UTC before they reach stations.csv.
func (c *Client) Stations(ctx context.Context) ([]Station, error) {
	var stations []Station
	if err := c.session.GetJSON(ctx, c.baseURL+"/lookup/stations", nil, &stations); err != nil {
		return nil, fmt.Errorf("failed to fetch station lookup: %w", err)
	}
	for i := range stations {
		stations[i].FirstMeasurment = utcString(stations[i].FirstMeasurment)
		stations[i].LastMeasurment = utcString(stations[i].LastMeasurment)
	}
	c.logger.Info("fetched air-quality stations", zap.Int("stations", len(stations)))
	return stations, nil
}

// Observations fetches one station-year and flattens every component's
// values into rows.
func (c *Client) Observations(ctx context.Context, st Station, year int) ([]Row, error) {
	u := fmt.Sprintf("%s/obs/historical/%d-01-01/%d-12-31/%s",
		c.baseURL, year, year, url.PathEscape(st.Name))

	var payload []series
	if err := c.session.GetJSON(ctx, u, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch %s %d: %w", st.Name, year, err)
	}

	var rows []Row
	for _, s := range payload {
		for _, v := range s.Values {
			t := v.FromTime
			if t == "" {
				t = v.ToTime
			}
			rows = append(rows, Row{
				Component: s.Component,
				ID:        st.ID,
				Time:      utcString(t),
				Value:     v.Value,
				Unit:      s.Unit,
				Coverage:  v.Coverage,
			})
		}
	}
	return rows, nil
}
