package nilu

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nordata/internal/fetch"
	"nordata/internal/tabular"
)

func testSession(t *testing.T) *fetch.Session {
	t.Helper()
	return fetch.NewSession(fetch.SessionConfig{
		Timeout: 5 * time.Second,
		Policy: fetch.Policy{
			MaxRetries:  2,
			BackoffBase: 2,
			Scale:       time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
			MinWait:     time.Millisecond,
		},
	}, zap.NewNop())
}

const stationsJSON = `[
  {"id":464,"zone":"Bergen","municipality":"Bergen","area":"Bergen",
   "station":"Danmarks plass","eoi":"NO0057A","type":"bybakgrunn",
   "latitude":60.38,"longitude":5.33,"components":"NO2, PM10",
   "firstMeasurment":"2016-03-01T01:00:00","lastMeasurment":"2017-06-30T23:00:00"},
  {"id":7,"zone":"Oslo","municipality":"Oslo","area":"Oslo",
   "station":"Gamlebyen","eoi":"NO0011A","type":"trafikk",
   "latitude":59.90,"longitude":10.77,"components":"NO2",
   "firstMeasurment":"1995-01-01T00:00:00","lastMeasurment":"1999-12-31T00:00:00"}
]`

const observationsJSON = `[
  {"component":"NO2","unit":"µg/m³","values":[
    {"fromTime":"2016-03-01T01:00:00+01:00","toTime":"2016-03-01T02:00:00+01:00",
     "value":42.5,"coverage":98.0},
    {"fromTime":"","toTime":"2016-03-01T03:00:00+01:00","value":null}]},
  {"component":"PM10","unit":"µg/m³","values":[
    {"fromTime":"2016-03-01T01:00:00+01:00","toTime":"2016-03-01T02:00:00+01:00",
     "value":12.1}]}
]`

func niluServer(t *testing.T, obsCalls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/lookup/stations":
			io.WriteString(w, stationsJSON)
		case strings.HasPrefix(r.URL.Path, "/obs/historical/"):
			if obsCalls != nil {
				obsCalls.Add(1)
			}
			io.WriteString(w, observationsJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"2016-03-01T01:00:00+01:00", "2016-03-01T00:00:00Z", true},
		{"2016-03-01T01:00:00", "2016-03-01T01:00:00Z", true},
		{"2016-03-01 01:00:00", "2016-03-01T01:00:00Z", true},
		{"", "", false},
		{"not a time", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseTime(tt.in)
		if ok != tt.wantOK {
			t.Errorf("ParseTime(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok {
			if s := got.UTC().Format(time.RFC3339); s != tt.want {
				t.Errorf("ParseTime(%q) = %s, want %s", tt.in, s, tt.want)
			}
		}
	}
}

func TestStationYearRange(t *testing.T) {
	st := Station{FirstMeasurment: "2016-03-01T01:00:00Z", LastMeasurment: "2019-06-30T23:00:00Z"}
	first, last, ok := st.YearRange()
	if !ok || first != 2016 || last != 2019 {
		t.Fatalf("YearRange() = %d, %d, %v", first, last, ok)
	}

	if _, _, ok := (Station{FirstMeasurment: "2016-03-01T01:00:00Z"}).YearRange(); ok {
		t.Error("missing last measurement should not yield a range")
	}
}

func TestStations(t *testing.T) {
	srv := niluServer(t, nil)
	client := NewClient(srv.URL, testSession(t), zap.NewNop())

	stations, err := client.Stations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)

	st := stations[0]
	assert.Equal(t, 464, st.ID)
	assert.Equal(t, "Danmarks plass", st.Name)
	assert.Equal(t, "NO0057A", st.EOI)
	assert.InDelta(t, 60.38, st.Latitude, 1e-9)
	// Naive API timestamps come out as UTC.
	assert.Equal(t, "2016-03-01T01:00:00Z", st.FirstMeasurment)
	assert.Equal(t, "2017-06-30T23:00:00Z", st.LastMeasurment)
}

func TestObservations(t *testing.T) {
	srv := niluServer(t, nil)
	client := NewClient(srv.URL, testSession(t), zap.NewNop())

	st := Station{ID: 464, Name: "Danmarks plass"}
	rows, err := client.Observations(context.Background(), st, 2016)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "NO2", rows[0].Component)
	assert.Equal(t, 464, rows[0].ID)
	assert.Equal(t, "2016-03-01T00:00:00Z", rows[0].Time)
	require.NotNil(t, rows[0].Value)
	assert.InDelta(t, 42.5, *rows[0].Value, 1e-9)
	assert.Equal(t, "µg/m³", rows[0].Unit)
	require.NotNil(t, rows[0].Coverage)
	assert.InDelta(t, 98.0, *rows[0].Coverage, 1e-9)

	// Missing fromTime falls back to toTime; null value stays empty.
	assert.Equal(t, "2016-03-01T02:00:00Z", rows[1].Time)
	assert.Nil(t, rows[1].Value)
	assert.Nil(t, rows[1].Coverage)

	assert.Equal(t, "PM10", rows[2].Component)
}

func TestJobRun(t *testing.T) {
	var obsCalls atomic.Int64
	srv := niluServer(t, &obsCalls)
	dir := t.TempDir()

	client := NewClient(srv.URL, testSession(t), zap.NewNop())
	job := NewJob(client, nil, zap.NewNop(), JobConfig{
		StoreDir: dir,
		FromYear: 2016,
		ToYear:   2016,
	})

	require.NoError(t, job.Run(context.Background(), "run-1"))

	// Station 7's span ends in 1999, outside the configured window, so only
	// station 464 year 2016 is fetched.
	assert.Equal(t, int64(1), obsCalls.Load())
	cp := CheckpointPath(dir, 464, 2016)
	assert.FileExists(t, cp)

	rows, err := tabular.ReadStructsFile[Row](cp)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	consolidated, err := tabular.ReadStructsFile[Row](filepath.Join(dir, MeasurementsCSV))
	require.NoError(t, err)
	assert.Len(t, consolidated, 3)

	parquetRows, err := tabular.ReadParquet[Row](filepath.Join(dir, MeasurementsPQ))
	require.NoError(t, err)
	assert.Len(t, parquetRows, 3)

	// A second run finds the checkpoint and skips the fetch.
	require.NoError(t, job.Run(context.Background(), "run-2"))
	assert.Equal(t, int64(1), obsCalls.Load())
}

func TestJobRun_StationFilter(t *testing.T) {
	var obsCalls atomic.Int64
	srv := niluServer(t, &obsCalls)
	dir := t.TempDir()

	client := NewClient(srv.URL, testSession(t), zap.NewNop())
	job := NewJob(client, nil, zap.NewNop(), JobConfig{
		StoreDir: dir,
		FromYear: 1995,
		ToYear:   2020,
		Station:  7,
	})

	require.NoError(t, job.Run(context.Background(), "run-1"))

	// Only station 7, years 1995..1999.
	assert.Equal(t, int64(5), obsCalls.Load())
	assert.NoFileExists(t, CheckpointPath(dir, 464, 2016))
	assert.FileExists(t, CheckpointPath(dir, 7, 1999))
}

func TestJobRun_DryRun(t *testing.T) {
	var obsCalls atomic.Int64
	srv := niluServer(t, &obsCalls)
	dir := t.TempDir()

	client := NewClient(srv.URL, testSession(t), zap.NewNop())
	job := NewJob(client, nil, zap.NewNop(), JobConfig{
		StoreDir: dir,
		FromYear: 2016,
		ToYear:   2016,
		DryRun:   true,
	})

	require.NoError(t, job.Run(context.Background(), "run-1"))
	assert.Equal(t, int64(0), obsCalls.Load())
	assert.NoFileExists(t, filepath.Join(dir, MeasurementsCSV))
}

func TestJobRun_EmptyYearStillWritesCheckpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/lookup/stations" {
			io.WriteString(w, `[{"id":9,"station":"Stille","firstMeasurment":"2016-01-01T00:00:00","lastMeasurment":"2016-12-31T00:00:00"}]`)
			return
		}
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()
	dir := t.TempDir()

	client := NewClient(srv.URL, testSession(t), zap.NewNop())
	job := NewJob(client, nil, zap.NewNop(), JobConfig{
		StoreDir: dir,
		FromYear: 2016,
		ToYear:   2016,
	})
	require.NoError(t, job.Run(context.Background(), "run-1"))

	cp := CheckpointPath(dir, 9, 2016)
	require.FileExists(t, cp)
	rows, err := tabular.ReadStructsFile[Row](cp)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
