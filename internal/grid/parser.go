package grid

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"gridwatch/pkg/logx"
)

const (
	// The first three rows of the sheet are banner/metadata.
	metaRows = 3
	// territoryCol is the raw column holding the territory label.
	territoryCol = 1
	// lastDateCol bounds the supported date window. Columns past it are
	// scratch space on the sheet and must not be ingested.
	lastDateCol = 60
)

// ParseDaily reshapes the wide daily grid into long-form records.
//
// Raw layout: rows 0..2 are metadata, row 3 is the header (territory
// label column followed by one column per date), rows 4+ hold one
// territory's series each. Output is sorted ascending by
// (date, territory); when the same key appears twice, the later cell
// in grid order wins.
//
// Malformed cells never abort the parse: blanks and unparseable
// numbers become 0, header cells that fail date parsing drop their
// whole column with a warning.
func ParseDaily(raw [][]string, now time.Time, log logx.Logger) []Record {
	if len(raw) <= metaRows {
		return nil
	}

	header := raw[metaRows]
	type dateCol struct {
		idx  int
		date time.Time
	}
	var cols []dateCol
	for c := territoryCol + 1; c <= lastDateCol && c < len(header); c++ {
		d, err := parseDate(header[c], now)
		if err != nil {
			log.Warn("dropping unparseable date column",
				logx.Int("column", c), logx.String("cell", header[c]))
			continue
		}
		cols = append(cols, dateCol{idx: c, date: d})
	}
	if len(cols) == 0 {
		return nil
	}

	byKey := make(map[Key]Record)
	for _, row := range raw[metaRows+1:] {
		territory := strings.TrimSpace(cellAt(row, territoryCol))
		if territory == "" {
			continue
		}
		for _, dc := range cols {
			rec := Record{
				Date:      dc.date,
				Territory: territory,
				Value:     ParseCount(cellAt(row, dc.idx)),
			}
			byKey[rec.Key()] = rec
		}
	}

	out := make([]Record, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// liveCols maps raw column offsets of the live overview sheet.
var liveCols = struct {
	territory, cases, deaths, recovered, severe, tested, active int
}{2, 4, 8, 13, 17, 21, 24}

// ParseLive reshapes the live overview grid: one row per territory,
// fixed metric columns, no date axis. Rows without a territory label
// are dropped; cells follow the same normalization as ParseDaily.
func ParseLive(raw [][]string, log logx.Logger) []LiveRecord {
	if len(raw) <= metaRows {
		return nil
	}
	var out []LiveRecord
	for _, row := range raw[metaRows:] {
		territory := strings.TrimSpace(cellAt(row, liveCols.territory))
		if territory == "" || territory == "0" {
			continue
		}
		out = append(out, LiveRecord{
			Territory: territory,
			Cases:     ParseCount(cellAt(row, liveCols.cases)),
			Deaths:    ParseCount(cellAt(row, liveCols.deaths)),
			Recovered: ParseCount(cellAt(row, liveCols.recovered)),
			Severe:    ParseCount(cellAt(row, liveCols.severe)),
			Tested:    ParseCount(cellAt(row, liveCols.tested)),
			Active:    ParseCount(cellAt(row, liveCols.active)),
		})
	}
	if len(out) > 0 {
		log.Debug("parsed live overview", logx.Int("territories", len(out)))
	}
	return out
}

// ParseCount normalizes one numeric cell. Blank or whitespace-only
// cells count as 0, a leading "+" and thousands separators are
// stripped, and anything still unparseable (or negative) is 0.
func ParseCount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.TrimPrefix(s, "+")
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

var errBadDate = errors.New("unrecognized date cell")

// dateLayouts are tried in order. Bare month/day cells (the sheet's
// usual header style) take their year from "now".
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"Jan 2 2006",
	"Jan 2, 2006",
}

func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errBadDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return midnightUTC(t), nil
		}
	}
	// Bare "M/D" or "M.D" without a year.
	if t, err := time.Parse("1/2", strings.ReplaceAll(s, ".", "/")); err == nil {
		return time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, errBadDate
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
