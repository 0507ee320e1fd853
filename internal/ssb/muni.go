package ssb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"nordata/internal/ledger"
	"nordata/internal/tabular"
)

// Municipality outputs.
const (
	CentralityFile = "centrality2020.csv"
	ChangesFile    = "munid_changes.csv"
	PopulationFile = "population_muni_year_age.csv"
	IncomeFile     = "income_muni_year.csv"
)

const (
	tablePopulation = "07459"
	tableIncome     = "06944"
)

type CentralityRow struct {
	Munid      int `csv:"munid"`
	Centrality int `csv:"centrality"`
}

type CodeRow struct {
	Code int    `csv:"code"`
	Name string `csv:"name"`
	Date string `csv:"date"`
}

// PopulationRow is one year, 2020-vintage municipality and one-year age
// group.
type PopulationRow struct {
	Year       int   `csv:"year"`
	Munid      int   `csv:"munid"`
	Age        int   `csv:"age"`
	Population int64 `csv:"population"`
}

// IncomeRow is the household count and mean post-tax income for one year
// and 2020-vintage municipality. Income is empty where no household count
// survived.
type IncomeRow struct {
	Year        int      `csv:"year"`
	Munid       int      `csv:"munid"`
	NHouseholds float64  `csv:"nhouseholds"`
	Income      *float64 `csv:"income"`
}

// MuniConfig bounds the per-year population queries. The population table
// rejects whole-history queries past the 800 000 cell cap, hence one query
// per year.
type MuniConfig struct {
	StoreDir string
	FromYear int
	ToYear   int
}

// MuniJob builds the municipality files: centrality, code changes, code
// snapshots, population by age and household income, all on 2020 codes.
type MuniJob struct {
	px     *PxWeb
	klass  *Klass
	led    *ledger.Ledger
	logger *zap.Logger
	cfg    MuniConfig
}

func NewMuniJob(px *PxWeb, klass *Klass, led *ledger.Ledger, logger *zap.Logger, cfg MuniConfig) *MuniJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FromYear <= 0 {
		cfg.FromYear = 1986
	}
	if cfg.ToYear <= 0 {
		cfg.ToYear = 2024
	}
	return &MuniJob{px: px, klass: klass, led: led, logger: logger, cfg: cfg}
}

// Run builds all five outputs. Every output is derived from complete
// source tables, so a failed fetch aborts the run rather than leaving
// partial files behind.
func (j *MuniJob) Run(ctx context.Context, runID string) error {
	if err := j.writeCentrality(ctx, runID); err != nil {
		return err
	}

	working, err := j.writeChanges(ctx, runID)
	if err != nil {
		return err
	}
	roll := NewRoller(working)

	if err := j.writePopulation(ctx, runID, roll); err != nil {
		return err
	}
	return j.writeIncome(ctx, runID, roll)
}

func (j *MuniJob) writeCentrality(ctx context.Context, runID string) error {
	start := time.Now()
	items, err := j.klass.CorrespondsAt(ctx, classMunicipality, classCentrality, vintage)
	recordTable(j.led, runID, "klass centrality", start, len(items), err)
	if err != nil {
		return err
	}

	rows := make([]CentralityRow, 0, len(items))
	for _, it := range items {
		munid, err := strconv.Atoi(it.SourceCode)
		if err != nil {
			return fmt.Errorf("bad municipality code %q: %w", it.SourceCode, err)
		}
		centrality, err := strconv.Atoi(it.TargetCode)
		if err != nil {
			return fmt.Errorf("bad centrality code %q: %w", it.TargetCode, err)
		}
		rows = append(rows, CentralityRow{Munid: munid, Centrality: centrality})
	}
	out := filepath.Join(j.cfg.StoreDir, CentralityFile)
	if err := tabular.WriteStructs(out, rows); err != nil {
		return err
	}
	j.logger.Info("wrote centrality", zap.String("path", out), zap.Int("rows", len(rows)))
	return nil
}

// writeChanges fetches the change register, persists it with the multi_drop
// flags, writes the per-date code snapshots and returns the working set.
func (j *MuniJob) writeChanges(ctx context.Context, runID string) ([]ChangeRow, error) {
	start := time.Now()
	changes, err := j.klass.Changes(ctx, classMunicipality, changesFrom)
	recordTable(j.led, runID, "klass changes", start, len(changes), err)
	if err != nil {
		return nil, err
	}
	file, working, err := PrepareChanges(changes)
	if err != nil {
		return nil, err
	}

	out := filepath.Join(j.cfg.StoreDir, ChangesFile)
	if err := tabular.WriteStructs(out, file); err != nil {
		return nil, err
	}
	j.logger.Info("wrote municipality changes",
		zap.String("path", out), zap.Int("rows", len(file)), zap.Int("working", len(working)))

	if err := j.writeCodes(ctx, runID, ChangeDates(file)); err != nil {
		return nil, err
	}
	return working, nil
}

// writeCodes concatenates the code lists in force at each change date.
func (j *MuniJob) writeCodes(ctx context.Context, runID string, dates []string) error {
	if len(dates) == 0 {
		return nil
	}
	var rows []CodeRow
	for _, d := range dates {
		start := time.Now()
		codes, err := j.klass.CodesAt(ctx, classMunicipality, d)
		recordTable(j.led, runID, "klass codes "+d, start, len(codes), err)
		if err != nil {
			return err
		}
		for _, c := range codes {
			code, err := strconv.Atoi(c.Code)
			if err != nil {
				return fmt.Errorf("bad municipality code %q: %w", c.Code, err)
			}
			rows = append(rows, CodeRow{Code: code, Name: c.Name, Date: d})
		}
	}

	name := fmt.Sprintf("munid_codes_%s_%s.csv", dates[0][:4], dates[len(dates)-1][:4])
	out := filepath.Join(j.cfg.StoreDir, name)
	if err := tabular.WriteStructs(out, rows); err != nil {
		return err
	}
	j.logger.Info("wrote municipality codes", zap.String("path", out), zap.Int("rows", len(rows)))
	return nil
}

// popRecord is one raw population observation before rolling.
type popRecord struct {
	year  int
	munid int
	age   int
	pop   int64
}

func (j *MuniJob) writePopulation(ctx context.Context, runID string, roll *Roller) error {
	var recs []popRecord
	for y := j.cfg.FromYear; y <= j.cfg.ToYear; y++ {
		frame, err := fetchTable(ctx, j.px, j.led, runID, tablePopulation,
			SelectAll("Region"),
			SelectItems("Tid", strconv.Itoa(y)),
			SelectAll("Alder"))
		if err != nil {
			return err
		}
		yearRecs, err := collectPopulation(frame)
		if err != nil {
			return err
		}
		recs = append(recs, yearRecs...)
	}

	rows := BuildPopulation(recs, roll)
	out := filepath.Join(j.cfg.StoreDir, PopulationFile)
	if err := tabular.WriteStructs(out, rows); err != nil {
		return err
	}
	j.logger.Info("wrote population", zap.String("path", out), zap.Int("rows", len(rows)))

	j.checkPopulation(ctx, runID, rows)
	return nil
}

// collectPopulation parses one year of the population table. Region codes
// that are not 4-digit municipality codes are dropped.
func collectPopulation(frame *Frame) ([]popRecord, error) {
	var recs []popRecord
	for _, row := range frame.Rows {
		region := row["Region"]
		if len(region) != 4 {
			continue
		}
		munid, err := strconv.Atoi(region)
		if err != nil {
			continue
		}
		year, err := strconv.Atoi(row["Tid"])
		if err != nil {
			return nil, fmt.Errorf("table %s: bad year %q", tablePopulation, row["Tid"])
		}
		age, err := parseAge(row["Alder"])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", tablePopulation, err)
		}
		v, ok := ParseFloat(row[tablePopulation])
		if !ok {
			continue
		}
		recs = append(recs, popRecord{year: year, munid: munid, age: age, pop: int64(v)})
	}
	return recs, nil
}

// parseAge maps the one-year age codes to ints; the open-ended top group
// 105+ becomes 105.
func parseAge(s string) (int, error) {
	if s == "105+" {
		return 105, nil
	}
	age, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad age %q", s)
	}
	return age, nil
}

// BuildPopulation drops (year, munid) groups whose population sums to zero,
// rolls codes to the 2020 vintage and aggregates by year, municipality and
// age.
func BuildPopulation(recs []popRecord, roll *Roller) []PopulationRow {
	groupSum := map[[2]int]int64{}
	for _, r := range recs {
		groupSum[[2]int{r.year, r.munid}] += r.pop
	}

	agg := map[[3]int]int64{}
	for _, r := range recs {
		if groupSum[[2]int{r.year, r.munid}] == 0 {
			continue
		}
		munid := roll.To2020(r.munid)
		agg[[3]int{r.year, munid, r.age}] += r.pop
	}

	keys := make([][3]int, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, k int) bool {
		if keys[i][0] != keys[k][0] {
			return keys[i][0] < keys[k][0]
		}
		if keys[i][1] != keys[k][1] {
			return keys[i][1] < keys[k][1]
		}
		return keys[i][2] < keys[k][2]
	})

	rows := make([]PopulationRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, PopulationRow{Year: k[0], Munid: k[1], Age: k[2], Population: agg[k]})
	}
	return rows
}

// checkPopulation logs how far the per-municipality sums drift from the
// Region-eliminated national totals, and how many rolled codes fall outside
// the 2020 code list. Both are diagnostics only.
func (j *MuniJob) checkPopulation(ctx context.Context, runID string, rows []PopulationRow) {
	totals, err := fetchTable(ctx, j.px, j.led, runID, tablePopulation, SelectAll("Tid"))
	if err != nil {
		j.logger.Warn("population total check skipped", zap.Error(err))
	} else {
		national := map[int]int64{}
		for _, row := range totals.Rows {
			year, err := strconv.Atoi(row["Tid"])
			if err != nil {
				continue
			}
			if v, ok := ParseFloat(row[tablePopulation]); ok {
				national[year] = int64(v)
			}
		}
		byYear := map[int]int64{}
		for _, r := range rows {
			byYear[r.Year] += r.Population
		}
		var worstYear int
		var worst int64
		for year, sum := range byYear {
			diff := national[year] - sum
			if diff < 0 {
				diff = -diff
			}
			if diff > worst {
				worst, worstYear = diff, year
			}
		}
		j.logger.Info("population total check",
			zap.Int("years", len(byYear)), zap.Int64("largest_gap", worst), zap.Int("worst_year", worstYear))
	}

	start := time.Now()
	codes, err := j.klass.CodesAt(ctx, classMunicipality, vintage)
	recordTable(j.led, runID, "klass codes "+vintage, start, len(codes), err)
	if err != nil {
		j.logger.Warn("code coverage check skipped", zap.Error(err))
		return
	}
	in2020 := map[int]bool{}
	for _, c := range codes {
		if code, err := strconv.Atoi(c.Code); err == nil {
			in2020[code] = true
		}
	}
	covered := 0
	for _, r := range rows {
		if in2020[r.Munid] {
			covered++
		}
	}
	coverage := 1.0
	if len(rows) > 0 {
		coverage = float64(covered) / float64(len(rows))
	}
	j.logger.Info("code coverage", zap.Float64("fraction", coverage))
}

func (j *MuniJob) writeIncome(ctx context.Context, runID string, roll *Roller) error {
	frame, err := fetchTable(ctx, j.px, j.led, runID, tableIncome,
		SelectAll("Region"),
		SelectAll("Tid"),
		SelectItems("ContentsCode", "InntSkatt", "AntallHushold"),
		SelectAll("HusholdType"))
	if err != nil {
		return err
	}
	rows, err := BuildIncome(frame, roll)
	if err != nil {
		return err
	}
	out := filepath.Join(j.cfg.StoreDir, IncomeFile)
	if err := tabular.WriteStructs(out, rows); err != nil {
		return err
	}
	j.logger.Info("wrote income", zap.String("path", out), zap.Int("rows", len(rows)))
	return nil
}

// BuildIncome pairs the two income measures per original municipality,
// rolls codes forward to 2020 and aggregates. Income series end before the
// post-2020 splits, so only the forward pass applies. totincome sums only
// where both measures are present; household counts sum wherever present,
// matching how the measure pairs are combined upstream.
func BuildIncome(frame *Frame, roll *Roller) ([]IncomeRow, error) {
	type pair struct {
		munid2020 int
		nh        *float64
		income    *float64
	}
	pairs := map[[2]int]*pair{}
	for _, row := range frame.Rows {
		region := row["Region"]
		if len(region) != 4 {
			continue
		}
		munid, err := strconv.Atoi(region)
		if err != nil {
			continue
		}
		if ht, err := strconv.Atoi(row["HusholdType"]); err != nil || ht != 0 {
			continue
		}
		year, err := strconv.Atoi(row["Tid"])
		if err != nil {
			return nil, fmt.Errorf("table %s: bad year %q", tableIncome, row["Tid"])
		}
		v, ok := ParseFloat(row[tableIncome])
		if !ok {
			continue
		}

		key := [2]int{year, munid}
		p := pairs[key]
		if p == nil {
			p = &pair{munid2020: roll.Forward(munid)}
			pairs[key] = p
		}
		switch row["ContentsCode"] {
		case "AntallHushold":
			p.nh = &v
		case "InntSkatt":
			p.income = &v
		}
	}

	pairKeys := make([][2]int, 0, len(pairs))
	for k := range pairs {
		pairKeys = append(pairKeys, k)
	}
	sort.Slice(pairKeys, func(i, k int) bool {
		if pairKeys[i][0] != pairKeys[k][0] {
			return pairKeys[i][0] < pairKeys[k][0]
		}
		return pairKeys[i][1] < pairKeys[k][1]
	})

	type sums struct {
		nh  float64
		tot float64
	}
	agg := map[[2]int]*sums{}
	for _, key := range pairKeys {
		p := pairs[key]
		k := [2]int{key[0], p.munid2020}
		s := agg[k]
		if s == nil {
			s = &sums{}
			agg[k] = s
		}
		if p.nh != nil {
			s.nh += *p.nh
			if p.income != nil {
				s.tot += *p.income * *p.nh
			}
		}
	}

	keys := make([][2]int, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, k int) bool {
		if keys[i][0] != keys[k][0] {
			return keys[i][0] < keys[k][0]
		}
		return keys[i][1] < keys[k][1]
	})

	rows := make([]IncomeRow, 0, len(keys))
	for _, k := range keys {
		s := agg[k]
		r := IncomeRow{Year: k[0], Munid: k[1], NHouseholds: s.nh}
		if s.nh != 0 {
			income := s.tot / s.nh
			r.Income = &income
		}
		rows = append(rows, r)
	}
	return rows, nil
}
