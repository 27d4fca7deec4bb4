package grid

import "time"

// Record is one normalized observation: how many incidents a territory
// reported on a given calendar date. Date carries UTC midnight, no
// time-of-day.
type Record struct {
	Date      time.Time
	Territory string
	Value     int64
}

// Key identifies a record across poll cycles.
type Key struct {
	Date      time.Time
	Territory string
}

func (r Record) Key() Key { return Key{Date: r.Date, Territory: r.Territory} }

// Less orders records ascending by (date, territory). This ordering is
// load-bearing: the notification log replays deterministically only if
// records are always processed in it.
func (r Record) Less(o Record) bool {
	if !r.Date.Equal(o.Date) {
		return r.Date.Before(o.Date)
	}
	return r.Territory < o.Territory
}

// LiveRecord is one row of the live overview sheet: current metric
// totals per territory, no date axis. Audit-only, never notified.
type LiveRecord struct {
	Territory string
	Cases     int64
	Deaths    int64
	Recovered int64
	Severe    int64
	Tested    int64
	Active    int64
}
