package ssb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
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

func frame(cols []string, records ...[]string) *Frame {
	f := &Frame{Columns: cols}
	for _, rec := range records {
		m := make(map[string]string, len(cols))
		for i, c := range cols {
			m[c] = rec[i]
		}
		f.Rows = append(f.Rows, m)
	}
	return f
}

func qi(year, q int) int {
	return Quarter{Year: year, Q: q}.Index()
}

func TestParseQuarter(t *testing.T) {
	tests := []struct {
		in      string
		want    Quarter
		wantErr bool
	}{
		{in: "1990K2", want: Quarter{Year: 1990, Q: 2}},
		{in: "2005Q4", want: Quarter{Year: 2005, Q: 4}},
		{in: "1977K4", want: Quarter{Year: 1977, Q: 4}},
		{in: "1990", wantErr: true},
		{in: "1990K5", wantErr: true},
		{in: "abcK2", wantErr: true},
		{in: "1990K", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseQuarter(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseQuarter(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseQuarter(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseQuarter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestQuarterArithmetic(t *testing.T) {
	q := Quarter{Year: 1997, Q: 4}
	if q.String() != "1997Q4" {
		t.Errorf("String() = %q", q.String())
	}
	if next := QuarterFromIndex(q.Index() + 1); next != (Quarter{Year: 1998, Q: 1}) {
		t.Errorf("index step crossed the year wrong: %v", next)
	}
	if QuarterFromIndex(q.Index()) != q {
		t.Errorf("index round trip failed for %v", q)
	}
	if !(Quarter{Year: 1997, Q: 3}).Before(q) {
		t.Error("1997Q3 should sort before 1997Q4")
	}
}

func TestParseCSV3(t *testing.T) {
	text := "\uFEFFMakrost,Tid,09190\nbnpb.nr23_9,1990K1,123.4\nbnpb.nr23_9,1990K2,..\n"
	f, err := ParseCSV3(text)
	require.NoError(t, err)
	require.Equal(t, []string{"Makrost", "Tid", "09190"}, f.Columns)
	require.Len(t, f.Rows, 2)
	assert.Equal(t, "123.4", f.Rows[0]["09190"])
	assert.Equal(t, "..", f.Rows[1]["09190"], "sentinels stay verbatim")

	empty, err := ParseCSV3("")
	require.NoError(t, err)
	assert.Empty(t, empty.Rows)

	_, err = ParseCSV3("a,b\n1\n")
	assert.Error(t, err, "short records are malformed")
}

func TestParseFloat(t *testing.T) {
	if v, ok := ParseFloat("123.4"); !ok || v != 123.4 {
		t.Errorf("ParseFloat(123.4) = %v, %v", v, ok)
	}
	for _, s := range []string{"", ".", "..", ":", "abc"} {
		if _, ok := ParseFloat(s); ok {
			t.Errorf("ParseFloat(%q) should not parse", s)
		}
	}
}

func TestInterpolateQuarters(t *testing.T) {
	anchors := map[int]float64{
		qi(1995, 4): 100,
		qi(1996, 4): 200,
		qi(1997, 4): 300,
	}
	out := interpolateQuarters(anchors, qi(1995, 4), qi(1996, 4))

	want := map[int]float64{
		qi(1995, 4): 100,
		qi(1996, 1): 125,
		qi(1996, 2): 150,
		qi(1996, 3): 175,
		qi(1996, 4): 200,
	}
	if len(out) != len(want) {
		t.Fatalf("got %d quarters, want %d: %v", len(out), len(want), out)
	}
	for k, v := range want {
		if out[k] != v {
			t.Errorf("quarter %s = %v, want %v", QuarterFromIndex(k), out[k], v)
		}
	}
}

func TestBuildMacro(t *testing.T) {
	gdpCols := []string{"Makrost", "ContentsCode", "Tid", "09190"}
	gdp := frame(gdpCols,
		[]string{"bnpb.nr23_9", "FastePriserSesJust", "1996K4", "280000"},
		[]string{"bnpb.nr23_9", "FastePriserSesJust", "1997K1", "290000"},
		[]string{"bnpb.nr23_9", "FastePriserSesJust", "1997K3", "295000"},
		[]string{"bnpb.nr23_9fn", "FastePriserSesJust", "1997K3", ".."},
		[]string{"bnpb.nr23_9", "FastePriserSesJust", "1997K4", "300000"},
		[]string{"bnpb.nr23_9fn", "FastePriserSesJust", "1997K4", "250000"},
		[]string{"bnpb.nr23_9", "FastePriserSesJust", "1998K1", "310000"},
		[]string{"bnpb.nr23_9fn", "FastePriserSesJust", "1998K1", "255000"},
		[]string{"bnpb.nr23_9", "FastePriserSesJust", "2030K1", "999999"},
	)
	qpopCols := []string{"Region", "ContentsCode", "Tid", "01222"}
	qpop := frame(qpopCols,
		[]string{"0", "Folketallet11", "1997K4", "4405157"},
		[]string{"0", "Folketallet11", "1998K1", "4417599"},
	)
	ypopCols := []string{"Region", "ContentsCode", "Tid", "06913"}
	ypop := frame(ypopCols,
		[]string{"0", "Folkemengde", "1997", "4392714"},
		[]string{"0", "Folkemengde", "1998", "4417000"},
	)

	rows, err := BuildMacro(gdp, qpop, ypop)
	require.NoError(t, err)
	require.Len(t, rows, 5, "the 2030 quarter has no population and drops out")

	assert.Equal(t, "1996Q4", rows[0].Time)
	assert.Equal(t, 4392714.0, rows[0].Population, "year 1997 anchors at 1996Q4")
	require.NotNil(t, rows[0].GDP)
	assert.Equal(t, 280000.0, *rows[0].GDP)
	assert.Nil(t, rows[0].GDPMainland)

	assert.Equal(t, "1997Q1", rows[1].Time)
	assert.InDelta(t, 4395824.75, rows[1].Population, 1e-6, "one quarter into the anchor gap")

	assert.Equal(t, "1997Q3", rows[2].Time)
	assert.InDelta(t, 4402046.25, rows[2].Population, 1e-6)
	assert.Nil(t, rows[2].GDPMainland, "sentinel mainland GDP stays empty")

	assert.Equal(t, "1997Q4", rows[3].Time)
	assert.Equal(t, 4405157.0, rows[3].Population, "quarterly series replaces the yearly anchor")

	assert.Equal(t, "1998Q1", rows[4].Time)
	assert.Equal(t, 4417599.0, rows[4].Population)
	require.NotNil(t, rows[4].GDPMainland)
	assert.Equal(t, 255000.0, *rows[4].GDPMainland)
}

func TestBuildCPIMonthly(t *testing.T) {
	cols := []string{"Maaned", "ContentsCode", "Tid", "08981"}
	f := frame(cols,
		[]string{"02", "KpiIndMnd", "1920", "."},
		[]string{"01", "KpiIndMnd", "1920", "2.4"},
		[]string{"12", "KpiIndMnd", "1919", "2.3"},
	)
	rows, err := BuildCPIMonthly(f)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "1919-12-01", rows[0].Date)
	require.NotNil(t, rows[0].CPI)
	assert.Equal(t, 2.3, *rows[0].CPI)
	assert.Equal(t, "1920-01-01", rows[1].Date)
	assert.Equal(t, "1920-02-01", rows[2].Date)
	assert.Nil(t, rows[2].CPI, "missing months keep an empty cell")
}

func TestBuildCPIYearly(t *testing.T) {
	cols := []string{"ContentsCode", "Tid", "08184"}
	rows, err := BuildCPIYearly(frame(cols,
		[]string{"KpiIndAar", "1920", "2.4"},
		[]string{"KpiIndAar", "1921", "2.2"},
	))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1920, rows[0].Year)
	require.NotNil(t, rows[1].CPI)
	assert.Equal(t, 2.2, *rows[1].CPI)

	_, err = BuildCPIYearly(frame(cols, []string{"KpiIndAar", "n/a", "1"}))
	assert.Error(t, err)
}

func TestPrepareChanges(t *testing.T) {
	changes := []Change{
		{OldCode: "0114", OldName: "Varteig", NewCode: "0105", NewName: "Sarpsborg", Occurred: "1992-01-01"},
		{OldCode: "0114", OldName: "Varteig", NewCode: "0128", NewName: "Rakkestad", Occurred: "1992-01-01"},
		{OldCode: "1534", OldName: "Haram", NewCode: "1507", NewName: "Ålesund", Occurred: "2020-01-01"},
		{OldCode: "1507", OldName: "Ålesund", NewCode: "1580", NewName: "Haram", Occurred: "2024-01-01"},
		{OldCode: "1507", OldName: "Ålesund", NewCode: "1508", NewName: "Ålesund", Occurred: "2024-01-01"},
		{OldCode: "5012", OldName: "Snillfjord", NewCode: "5055", NewName: "Heim", Occurred: "2020-01-01"},
		{OldCode: "5012", OldName: "Snillfjord", NewCode: "5059", NewName: "Orkland", Occurred: "2020-01-01"},
	}
	file, working, err := PrepareChanges(changes)
	require.NoError(t, err)

	require.Len(t, file, 6, "both Haram legs drop, the direct change is added")
	for _, row := range file {
		if row.MunidFrom == 1534 && row.MunidTo == 1507 {
			t.Error("Haram merge leg should be gone")
		}
		if row.MunidFrom == 1507 && row.MunidTo == 1580 {
			t.Error("Haram split leg should be gone")
		}
	}
	last := file[len(file)-1]
	assert.Equal(t, ChangeRow{MunidFrom: 1534, MunidTo: 1580, Date: "2024-01-01"}, last)

	dropped := 0
	for _, row := range file {
		if row.MultiDrop {
			dropped++
		}
	}
	assert.Equal(t, 2, dropped, "114-128 and 5012-5055 are flagged")

	require.Len(t, working, 4)
	for _, row := range working {
		assert.False(t, row.MultiDrop)
	}
}

func TestRoller(t *testing.T) {
	working := []ChangeRow{
		{MunidFrom: 114, MunidTo: 105, Date: "1992-01-01"},
		{MunidFrom: 105, MunidTo: 3003, Date: "2020-01-01"},
		{MunidFrom: 1534, MunidTo: 1580, Date: "2024-01-01"},
		{MunidFrom: 1507, MunidTo: 1508, Date: "2024-01-01"},
	}
	roll := NewRoller(working)

	if got := roll.Forward(114); got != 3003 {
		t.Errorf("Forward(114) = %d, want 3003 via two dates", got)
	}
	if got := roll.Forward(1580); got != 1580 {
		t.Errorf("Forward(1580) = %d, post-2020 codes stay put on the forward pass", got)
	}
	if got := roll.To2020(1580); got != 1534 {
		t.Errorf("To2020(1580) = %d, want the pre-merger Haram code", got)
	}
	if got := roll.To2020(1508); got != 1507 {
		t.Errorf("To2020(1508) = %d, want 1507", got)
	}
	if got := roll.To2020(301); got != 301 {
		t.Errorf("To2020(301) = %d, unknown codes pass through", got)
	}

	// Changes sharing a date apply simultaneously, one hop per date.
	sameDate := NewRoller([]ChangeRow{
		{MunidFrom: 1, MunidTo: 2, Date: "2019-01-01"},
		{MunidFrom: 2, MunidTo: 3, Date: "2019-01-01"},
	})
	if got := sameDate.Forward(1); got != 2 {
		t.Errorf("Forward(1) = %d, want 2", got)
	}
	if got := sameDate.Forward(2); got != 3 {
		t.Errorf("Forward(2) = %d, want 3", got)
	}
}

func TestChangeDates(t *testing.T) {
	dates := ChangeDates([]ChangeRow{
		{Date: "2020-01-01"},
		{Date: "1992-01-01"},
		{Date: "2020-01-01"},
	})
	require.Equal(t, []string{"1992-01-01", "2020-01-01"}, dates)
}

func TestBuildPopulation(t *testing.T) {
	cols := []string{"Region", "Alder", "ContentsCode", "Tid", "07459"}
	f := frame(cols,
		[]string{"0301", "000", "Personer1", "2019", "100"},
		[]string{"0301", "105+", "Personer1", "2019", "1"},
		[]string{"0105", "000", "Personer1", "2019", "10"},
		[]string{"03", "000", "Personer1", "2019", "999"},
		[]string{"1234", "000", "Personer1", "2019", "0"},
		[]string{"1234", "001", "Personer1", "2019", "0"},
		[]string{"0301", "000", "Personer1", "2020", "70"},
	)
	recs, err := collectPopulation(f)
	require.NoError(t, err)
	require.Len(t, recs, 6, "county rows drop on length")

	roll := NewRoller([]ChangeRow{{MunidFrom: 105, MunidTo: 301, Date: "2020-01-01"}})
	rows := BuildPopulation(recs, roll)

	want := []PopulationRow{
		{Year: 2019, Munid: 301, Age: 0, Population: 110},
		{Year: 2019, Munid: 301, Age: 105, Population: 1},
		{Year: 2020, Munid: 301, Age: 0, Population: 70},
	}
	require.Equal(t, want, rows, "zero groups drop, rolled codes merge")
}

func TestBuildIncome(t *testing.T) {
	cols := []string{"Region", "HusholdType", "ContentsCode", "Tid", "06944"}
	f := frame(cols,
		[]string{"0301", "0", "InntSkatt", "2015", "500000"},
		[]string{"0301", "0", "AntallHushold", "2015", "100"},
		[]string{"0105", "0", "InntSkatt", "2015", "400000"},
		[]string{"0105", "0", "AntallHushold", "2015", "50"},
		[]string{"0301", "1", "InntSkatt", "2015", "999999"},
		[]string{"5012", "0", "InntSkatt", "2015", "."},
		[]string{"5012", "0", "AntallHushold", "2015", "20"},
		[]string{"2222", "0", "InntSkatt", "2015", "300000"},
		[]string{"0", "0", "InntSkatt", "2015", "1"},
	)
	roll := NewRoller([]ChangeRow{{MunidFrom: 105, MunidTo: 301, Date: "2020-01-01"}})

	rows, err := BuildIncome(f, roll)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 301, rows[0].Munid)
	assert.Equal(t, 150.0, rows[0].NHouseholds, "households merge across the rolled code")
	require.NotNil(t, rows[0].Income)
	assert.InDelta(t, 466666.6667, *rows[0].Income, 0.001)

	assert.Equal(t, 2222, rows[1].Munid)
	assert.Equal(t, 0.0, rows[1].NHouseholds)
	assert.Nil(t, rows[1].Income, "no household count means no mean income")

	assert.Equal(t, 5012, rows[2].Munid)
	assert.Equal(t, 20.0, rows[2].NHouseholds)
	require.NotNil(t, rows[2].Income)
	assert.Equal(t, 0.0, *rows[2].Income, "suppressed income contributes nothing")
}

const (
	gdpCSV3 = "\uFEFFMakrost,ContentsCode,Tid,09190\n" +
		"bnpb.nr23_9,FastePriserSesJust,1997K4,300000\n" +
		"bnpb.nr23_9fn,FastePriserSesJust,1997K4,250000\n" +
		"bnpb.nr23_9,FastePriserSesJust,1998K1,310000\n" +
		"bnpb.nr23_9fn,FastePriserSesJust,1998K1,255000\n"
	qpopCSV3 = "Region,ContentsCode,Tid,01222\n" +
		"0,Folketallet11,1997K4,4405157\n" +
		"0,Folketallet11,1998K1,4417599\n"
	ypopCSV3 = "Region,ContentsCode,Tid,06913\n" +
		"0,Folkemengde,1997,4392714\n" +
		"0,Folkemengde,1998,4417000\n"
)

func TestMacroJobRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/table/09190"):
			io.WriteString(w, gdpCSV3)
		case strings.HasSuffix(r.URL.Path, "/table/01222"):
			io.WriteString(w, qpopCSV3)
		case strings.HasSuffix(r.URL.Path, "/table/06913"):
			io.WriteString(w, ypopCSV3)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	px := NewPxWeb(srv.URL, testSession(t), zap.NewNop())
	job := NewMacroJob(px, nil, zap.NewNop(), dir)
	require.NoError(t, job.Run(context.Background(), "run-1"))

	rows, err := tabular.ReadStructsFile[MacroRow](filepath.Join(dir, GDPFile))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1997Q4", rows[0].Time)
	assert.Equal(t, 4405157.0, rows[0].Population)
	require.NotNil(t, rows[1].GDP)
	assert.Equal(t, 310000.0, *rows[1].GDP)
}

func TestCPIJobRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/table/08981"):
			io.WriteString(w, "Maaned,ContentsCode,Tid,08981\n"+
				"02,KpiIndMnd,1920,2.5\n01,KpiIndMnd,1920,2.4\n")
		case strings.HasSuffix(r.URL.Path, "/table/08184"):
			io.WriteString(w, "ContentsCode,Tid,08184\nKpiIndAar,1920,2.4\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	px := NewPxWeb(srv.URL, testSession(t), zap.NewNop())
	job := NewCPIJob(px, nil, zap.NewNop(), dir)
	require.NoError(t, job.Run(context.Background(), "run-1"))

	monthly, err := tabular.ReadStructsFile[CPIMonthlyRow](filepath.Join(dir, CPIMonthlyFile))
	require.NoError(t, err)
	require.Len(t, monthly, 2)
	assert.Equal(t, "1920-01-01", monthly[0].Date, "rows come out date sorted")

	yearly, err := tabular.ReadStructsFile[CPIYearlyRow](filepath.Join(dir, CPIYearlyFile))
	require.NoError(t, err)
	require.Len(t, yearly, 1)
	assert.Equal(t, 1920, yearly[0].Year)
}

const (
	centralityJSON = `{"correspondenceItems":[
  {"sourceCode":"0301","sourceName":"Oslo","targetCode":"1","targetName":"Sentralitet 1"},
  {"sourceCode":"5001","sourceName":"Trondheim","targetCode":"2","targetName":"Sentralitet 2"}]}`
	changesCSV = "oldCode,oldName,oldShortName,newCode,newName,newShortName,changeOccurred\n" +
		"0105,Sarpsborg,Sarpsborg,3003,Sarpsborg,Sarpsborg,2020-01-01\n"
	codesCSV = "code,name\n0301,Oslo\n3003,Sarpsborg\n"

	pop2019CSV3 = "Region,Alder,ContentsCode,Tid,07459\n" +
		"0301,000,Personer1,2019,100\n" +
		"0301,105+,Personer1,2019,1\n" +
		"0105,000,Personer1,2019,10\n" +
		"03,000,Personer1,2019,999\n"
	pop2020CSV3 = "Region,Alder,ContentsCode,Tid,07459\n" +
		"0301,000,Personer1,2020,70\n"
	totalsCSV3 = "ContentsCode,Tid,07459\n" +
		"Personer1,2019,111\nPersoner1,2020,70\n"
	incomeCSV3 = "Region,HusholdType,ContentsCode,Tid,06944\n" +
		"0301,0,InntSkatt,2015,500000\n" +
		"0301,0,AntallHushold,2015,100\n" +
		"0105,0,InntSkatt,2015,400000\n" +
		"0105,0,AntallHushold,2015,50\n"
)

func muniServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/correspondsAt"):
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, centralityJSON)
		case strings.HasSuffix(r.URL.Path, "/changes.csv"):
			io.WriteString(w, changesCSV)
		case strings.HasSuffix(r.URL.Path, "/codesAt.csv"):
			io.WriteString(w, codesCSV)
		case strings.HasSuffix(r.URL.Path, "/table/07459"):
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if !strings.Contains(string(body), "Alder") {
				io.WriteString(w, totalsCSV3)
				return
			}
			var req struct {
				Query []struct {
					Code      string `json:"code"`
					Selection struct {
						Values []string `json:"values"`
					} `json:"selection"`
				} `json:"query"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			year := ""
			for _, q := range req.Query {
				if q.Code == "Tid" {
					year = q.Selection.Values[0]
				}
			}
			switch year {
			case "2019":
				io.WriteString(w, pop2019CSV3)
			case "2020":
				io.WriteString(w, pop2020CSV3)
			default:
				t.Errorf("unexpected population year %q", year)
				http.NotFound(w, r)
			}
		case strings.HasSuffix(r.URL.Path, "/table/06944"):
			io.WriteString(w, incomeCSV3)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestMuniJobRun(t *testing.T) {
	srv := muniServer(t)
	defer srv.Close()

	dir := t.TempDir()
	session := testSession(t)
	px := NewPxWeb(srv.URL, session, zap.NewNop())
	klass := NewKlass(srv.URL, session, zap.NewNop())
	job := NewMuniJob(px, klass, nil, zap.NewNop(), MuniConfig{
		StoreDir: dir,
		FromYear: 2019,
		ToYear:   2020,
	})
	require.NoError(t, job.Run(context.Background(), "run-1"))

	centrality, err := tabular.ReadStructsFile[CentralityRow](filepath.Join(dir, CentralityFile))
	require.NoError(t, err)
	require.Equal(t, []CentralityRow{{Munid: 301, Centrality: 1}, {Munid: 5001, Centrality: 2}}, centrality)

	changes, err := tabular.ReadStructsFile[ChangeRow](filepath.Join(dir, ChangesFile))
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 105, changes[0].MunidFrom)
	assert.Equal(t, 3003, changes[0].MunidTo)
	assert.Equal(t, ChangeRow{MunidFrom: 1534, MunidTo: 1580, Date: "2024-01-01"}, changes[1])

	codes, err := tabular.ReadStructsFile[CodeRow](filepath.Join(dir, "munid_codes_2020_2024.csv"))
	require.NoError(t, err)
	require.Len(t, codes, 4, "two codes at each of the two change dates")
	assert.Equal(t, CodeRow{Code: 301, Name: "Oslo", Date: "2020-01-01"}, codes[0])
	assert.Equal(t, "2024-01-01", codes[2].Date)

	pop, err := tabular.ReadStructsFile[PopulationRow](filepath.Join(dir, PopulationFile))
	require.NoError(t, err)
	want := []PopulationRow{
		{Year: 2019, Munid: 301, Age: 0, Population: 100},
		{Year: 2019, Munid: 301, Age: 105, Population: 1},
		{Year: 2019, Munid: 3003, Age: 0, Population: 10},
		{Year: 2020, Munid: 301, Age: 0, Population: 70},
	}
	require.Equal(t, want, pop, "0105 rolls to 3003, counties drop")

	income, err := tabular.ReadStructsFile[IncomeRow](filepath.Join(dir, IncomeFile))
	require.NoError(t, err)
	require.Len(t, income, 2)
	assert.Equal(t, 301, income[0].Munid)
	require.NotNil(t, income[0].Income)
	assert.Equal(t, 500000.0, *income[0].Income)
	assert.Equal(t, 3003, income[1].Munid, "income rolls forward only")
	assert.Equal(t, 50.0, income[1].NHouseholds)
}
