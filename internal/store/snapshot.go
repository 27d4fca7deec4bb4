package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gridwatch/internal/grid"
)

// ReplaceSnapshot swaps the stored snapshot for recs in one
// transaction and appends every record to the history log. History
// append is unconditional: it logs fetches, not changes.
func (s *Store) ReplaceSnapshot(ctx context.Context, recs []grid.Record, fetchedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot (rec_dt, territory, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()
	hist, err := tx.PrepareContext(ctx,
		`INSERT INTO history (fetched_at, rec_dt, territory, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer hist.Close()

	at := encodeTS(fetchedAt)
	for _, r := range recs {
		dt := encodeDate(r.Date)
		if _, err := ins.ExecContext(ctx, dt, r.Territory, r.Value); err != nil {
			return fmt.Errorf("insert snapshot %s/%s: %w", dt, r.Territory, err)
		}
		if _, err := hist.ExecContext(ctx, at, dt, r.Territory, r.Value); err != nil {
			return fmt.Errorf("append history %s/%s: %w", dt, r.Territory, err)
		}
	}
	return tx.Commit()
}

// pendingQuery joins the snapshot against the newest notification per
// key. A record is pending when its value grew past what was last
// notified, the per-key cool-down has elapsed, and its date falls
// inside the trailing freshness window (strictly past, at most the
// window old).
const pendingQuery = `
SELECT s.rec_dt, s.territory, s.value
FROM snapshot AS s
LEFT JOIN (
    SELECT rec_dt, territory,
           MAX(value)       AS value,
           MAX(notified_at) AS notified_at
    FROM notifications
    GROUP BY rec_dt, territory
) AS n
ON n.rec_dt = s.rec_dt AND n.territory = s.territory
WHERE s.value > 0
  AND (n.value IS NULL OR n.value < s.value)
  AND (n.notified_at IS NULL
       OR (julianday(?) - julianday(n.notified_at)) * 86400.0 >= ?)
  AND julianday(?) - julianday(s.rec_dt) <= ?
  AND julianday(?) - julianday(s.rec_dt) > 0
ORDER BY s.rec_dt ASC, s.territory ASC`

// PendingDeltas returns the snapshot records newly eligible for
// notification at "now", ordered ascending by (date, territory).
func (s *Store) PendingDeltas(ctx context.Context, now time.Time, cooldown, staleWindow time.Duration) ([]grid.Record, error) {
	ts := encodeTS(now)
	staleDays := staleWindow.Hours() / 24
	rows, err := s.db.QueryContext(ctx, pendingQuery,
		ts, cooldown.Seconds(), ts, staleDays, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grid.Record
	for rows.Next() {
		var (
			dt  string
			rec grid.Record
		)
		if err := rows.Scan(&dt, &rec.Territory, &rec.Value); err != nil {
			return nil, err
		}
		if rec.Date, err = decodeDate(dt); err != nil {
			return nil, fmt.Errorf("bad rec_dt %q: %w", dt, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TerritoryTotal sums the current snapshot for one territory. The
// territory label is parameter-bound; labels come from an external
// sheet and must never be spliced into SQL.
func (s *Store) TerritoryTotal(ctx context.Context, territory string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(value), 0) FROM snapshot WHERE territory = ?`,
		territory,
	).Scan(&total)
	return total, err
}

// MarkNotified appends a notification-log entry for rec. Values per
// key are strictly increasing; an equal or smaller value returns
// ErrNotNewer and logs nothing.
func (s *Store) MarkNotified(ctx context.Context, rec grid.Record, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dt := encodeDate(rec.Date)
	var prev sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(value) FROM notifications WHERE rec_dt = ? AND territory = ?`,
		dt, rec.Territory,
	).Scan(&prev)
	if err != nil {
		return err
	}
	if prev.Valid && prev.Int64 >= rec.Value {
		return ErrNotNewer
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (notified_at, rec_dt, territory, value) VALUES (?, ?, ?, ?)`,
		encodeTS(at), dt, rec.Territory, rec.Value,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Regression is a snapshot record whose value fell below what was
// already notified for the same key. The feed promises monotonically
// growing counts, so these are data-quality anomalies worth surfacing.
type Regression struct {
	Date          time.Time
	Territory     string
	SnapshotValue int64
	NotifiedValue int64
}

func (s *Store) Regressions(ctx context.Context) ([]Regression, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.rec_dt, s.territory, s.value, n.value
FROM snapshot AS s
JOIN (
    SELECT rec_dt, territory, MAX(value) AS value
    FROM notifications
    GROUP BY rec_dt, territory
) AS n
ON n.rec_dt = s.rec_dt AND n.territory = s.territory
WHERE s.value < n.value
ORDER BY s.rec_dt ASC, s.territory ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Regression
	for rows.Next() {
		var (
			dt string
			r  Regression
		)
		if err := rows.Scan(&dt, &r.Territory, &r.SnapshotValue, &r.NotifiedValue); err != nil {
			return nil, err
		}
		if r.Date, err = decodeDate(dt); err != nil {
			return nil, fmt.Errorf("bad rec_dt %q: %w", dt, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LiveLatest returns the current live overview, ordered by territory.
func (s *Store) LiveLatest(ctx context.Context) ([]grid.LiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT territory, cases, deaths, recovered, severe, tested, active
FROM live_latest ORDER BY territory ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grid.LiveRecord
	for rows.Next() {
		var r grid.LiveRecord
		if err := rows.Scan(&r.Territory, &r.Cases, &r.Deaths, &r.Recovered,
			&r.Severe, &r.Tested, &r.Active); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceLive swaps the live overview table and appends to its history
// log, mirroring ReplaceSnapshot for the dateless live sheet.
func (s *Store) ReplaceLive(ctx context.Context, recs []grid.LiveRecord, fetchedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM live_latest`); err != nil {
		return err
	}
	ins, err := tx.PrepareContext(ctx, `
INSERT INTO live_latest (territory, cases, deaths, recovered, severe, tested, active)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()
	hist, err := tx.PrepareContext(ctx, `
INSERT INTO live_history (fetched_at, territory, cases, deaths, recovered, severe, tested, active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer hist.Close()

	at := encodeTS(fetchedAt)
	for _, r := range recs {
		if _, err := ins.ExecContext(ctx,
			r.Territory, r.Cases, r.Deaths, r.Recovered, r.Severe, r.Tested, r.Active); err != nil {
			return fmt.Errorf("insert live %s: %w", r.Territory, err)
		}
		if _, err := hist.ExecContext(ctx,
			at, r.Territory, r.Cases, r.Deaths, r.Recovered, r.Severe, r.Tested, r.Active); err != nil {
			return fmt.Errorf("append live history %s: %w", r.Territory, err)
		}
	}
	return tx.Commit()
}
