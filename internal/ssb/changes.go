package ssb

import (
	"fmt"
	"sort"
	"strconv"
)

// Municipality classification constants. Codes are rolled to the vintage in
// force at 2020-01-01.
const (
	classMunicipality = 131
	classCentrality   = 128
	vintage           = "2020-01-01"
	changesFrom       = "1986-01-01"
)

// ChangeRow is one municipality code change as persisted. multi_drop marks
// the one-to-many splits that are kept in the file but excluded from the
// working set used for rolling.
type ChangeRow struct {
	MunidFrom    int    `csv:"munid_from"`
	OldName      string `csv:"oldName"`
	OldShortName string `csv:"oldShortName"`
	MunidTo      int    `csv:"munid_to"`
	NewName      string `csv:"newName"`
	NewShortName string `csv:"newShortName"`
	Date         string `csv:"date"`
	MultiDrop    bool   `csv:"multi_drop"`
}

// The known one-to-many splits since 1986. Each departing municipality was
// divided between several receivers; rolling keeps only the receiver with
// the most population continuity, so the other legs are dropped:
// Varteig mostly went to Sarpsborg, not Rakkestad (114-128); parts of
// Ringsaker to Hamar left Ringsaker intact (412-403); Stokke went mostly to
// Sandefjord (720-704); Tysfjord's halves were alike, Narvik kept as the
// larger (1850-1806); Snillfjord's largest part went to Orkland
// (5012-5056, 5012-5055).
var multiSplits = map[[2]int]bool{
	{114, 128}:   true,
	{412, 403}:   true,
	{720, 704}:   true,
	{1850, 1806}: true,
	{5012, 5056}: true,
	{5012, 5055}: true,
}

// PrepareChanges converts the raw change list into the persisted rows and
// the working set used for rolling. Haram (1534) passed through the 2020
// Ålesund merger (1507) only to split back out as 1580 in 2024; both legs
// are removed and replaced by a direct 1534 to 1580 change so the detour
// never contaminates the rolled codes.
func PrepareChanges(changes []Change) (file, working []ChangeRow, err error) {
	for _, ch := range changes {
		from, err := strconv.Atoi(ch.OldCode)
		if err != nil {
			return nil, nil, fmt.Errorf("bad old code %q: %w", ch.OldCode, err)
		}
		to, err := strconv.Atoi(ch.NewCode)
		if err != nil {
			return nil, nil, fmt.Errorf("bad new code %q: %w", ch.NewCode, err)
		}
		if (from == 1534 && to == 1507) || (from == 1507 && to == 1580) {
			continue
		}
		row := ChangeRow{
			MunidFrom:    from,
			OldName:      ch.OldName,
			OldShortName: ch.OldShortName,
			MunidTo:      to,
			NewName:      ch.NewName,
			NewShortName: ch.NewShortName,
			Date:         ch.Occurred,
			MultiDrop:    multiSplits[[2]int{from, to}],
		}
		file = append(file, row)
		if !row.MultiDrop {
			working = append(working, row)
		}
	}

	haram := ChangeRow{MunidFrom: 1534, MunidTo: 1580, Date: "2024-01-01"}
	file = append(file, haram)
	working = append(working, haram)
	return file, working, nil
}

// ChangeDates returns the distinct change dates in ascending order.
func ChangeDates(rows []ChangeRow) []string {
	seen := map[string]bool{}
	var dates []string
	for _, ch := range rows {
		if !seen[ch.Date] {
			seen[ch.Date] = true
			dates = append(dates, ch.Date)
		}
	}
	sort.Strings(dates)
	return dates
}

// Roller maps municipality codes from any year onto the 2020 vintage.
// Changes through 2020-01-01 are applied forward in date order; changes
// after it are applied backward in reverse date order. Each date's changes
// apply simultaneously, so a chain across dates resolves one step per date.
type Roller struct {
	forward  []map[int]int
	backward []map[int]int
}

func NewRoller(working []ChangeRow) *Roller {
	fwd := map[string]map[int]int{}
	bwd := map[string]map[int]int{}
	for _, ch := range working {
		if ch.Date <= vintage {
			m := fwd[ch.Date]
			if m == nil {
				m = map[int]int{}
				fwd[ch.Date] = m
			}
			m[ch.MunidFrom] = ch.MunidTo
		} else {
			m := bwd[ch.Date]
			if m == nil {
				m = map[int]int{}
				bwd[ch.Date] = m
			}
			m[ch.MunidTo] = ch.MunidFrom
		}
	}

	r := &Roller{}
	for _, d := range sortedDates(fwd) {
		r.forward = append(r.forward, fwd[d])
	}
	dates := sortedDates(bwd)
	for i := len(dates) - 1; i >= 0; i-- {
		r.backward = append(r.backward, bwd[dates[i]])
	}
	return r
}

// Forward rolls a code through the mergers up to and including 2020-01-01.
// Series that predate the later splits use only this pass.
func (r *Roller) Forward(munid int) int {
	for _, m := range r.forward {
		if to, ok := m[munid]; ok {
			munid = to
		}
	}
	return munid
}

// To2020 rolls a code from any year to the 2020 vintage: forward through
// the mergers, then back out of any post-2020 split.
func (r *Roller) To2020(munid int) int {
	munid = r.Forward(munid)
	for _, m := range r.backward {
		if from, ok := m[munid]; ok {
			munid = from
		}
	}
	return munid
}

func sortedDates(m map[string]map[int]int) []string {
	dates := make([]string, 0, len(m))
	for d := range m {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}
