package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"gridwatch/internal/grid"
	"gridwatch/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "gridwatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const (
	cooldown    = time.Hour
	staleWindow = 24 * time.Hour
)

func TestReplaceSnapshotAndTotals(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 3, 2, 10, 0, 0, 0, time.UTC)

	recs := []grid.Record{
		{Date: day(2020, 3, 1), Territory: "Alpha", Value: 5},
		{Date: day(2020, 3, 2), Territory: "Alpha", Value: 7},
		{Date: day(2020, 3, 2), Territory: "Beta", Value: 2},
	}
	if err := st.ReplaceSnapshot(ctx, recs, now); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}

	total, err := st.TerritoryTotal(ctx, "Alpha")
	if err != nil {
		t.Fatalf("TerritoryTotal: %v", err)
	}
	if total != 12 {
		t.Fatalf("Alpha total = %d, want 12", total)
	}

	// A replacement is wholesale, not a merge.
	if err := st.ReplaceSnapshot(ctx, recs[:1], now.Add(time.Minute)); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}
	total, err = st.TerritoryTotal(ctx, "Alpha")
	if err != nil {
		t.Fatalf("TerritoryTotal: %v", err)
	}
	if total != 5 {
		t.Fatalf("Alpha total after replace = %d, want 5", total)
	}
}

func TestPendingDeltasWindowAndOrdering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 3, 2, 10, 0, 0, 0, time.UTC)

	recs := []grid.Record{
		{Date: day(2020, 3, 2), Territory: "Beta", Value: 3},  // in window
		{Date: day(2020, 3, 2), Territory: "Alpha", Value: 7}, // in window
		{Date: day(2020, 2, 28), Territory: "Alpha", Value: 9}, // stale
		{Date: day(2020, 3, 3), Territory: "Alpha", Value: 1},  // future
		{Date: day(2020, 3, 2), Territory: "Gamma", Value: 0},  // zero
	}
	if err := st.ReplaceSnapshot(ctx, recs, now); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}

	got, err := st.PendingDeltas(ctx, now, cooldown, staleWindow)
	if err != nil {
		t.Fatalf("PendingDeltas: %v", err)
	}
	want := []grid.Record{
		{Date: day(2020, 3, 2), Territory: "Alpha", Value: 7},
		{Date: day(2020, 3, 2), Territory: "Beta", Value: 3},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected deltas:\n got %+v\nwant %+v", got, want)
	}
}

func TestPendingDeltasCooldown(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 3, 2, 10, 0, 0, 0, time.UTC)
	rec := grid.Record{Date: day(2020, 3, 2), Territory: "Alpha", Value: 5}

	if err := st.ReplaceSnapshot(ctx, []grid.Record{rec}, now); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}
	if err := st.MarkNotified(ctx, rec, now); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}

	// Value grows, but the cool-down has not elapsed.
	rec.Value = 8
	if err := st.ReplaceSnapshot(ctx, []grid.Record{rec}, now.Add(10*time.Minute)); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}
	got, err := st.PendingDeltas(ctx, now.Add(30*time.Minute), cooldown, staleWindow)
	if err != nil {
		t.Fatalf("PendingDeltas: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("record eligible inside cool-down: %+v", got)
	}

	// After the cool-down it is eligible again.
	got, err = st.PendingDeltas(ctx, now.Add(2*time.Hour), cooldown, staleWindow)
	if err != nil {
		t.Fatalf("PendingDeltas: %v", err)
	}
	if len(got) != 1 || got[0].Value != 8 {
		t.Fatalf("expected the grown record after cool-down, got %+v", got)
	}
}

func TestPendingDeltasRequireGrowth(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 3, 2, 10, 0, 0, 0, time.UTC)
	rec := grid.Record{Date: day(2020, 3, 2), Territory: "Alpha", Value: 5}

	if err := st.ReplaceSnapshot(ctx, []grid.Record{rec}, now); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}
	if err := st.MarkNotified(ctx, rec, now); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}

	// Same value, cool-down long past: still not eligible.
	got, err := st.PendingDeltas(ctx, now.Add(5*time.Hour), cooldown, staleWindow)
	if err != nil {
		t.Fatalf("PendingDeltas: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unchanged record reported as pending: %+v", got)
	}
}

func TestMarkNotifiedMonotonic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 3, 2, 10, 0, 0, 0, time.UTC)
	rec := grid.Record{Date: day(2020, 3, 2), Territory: "Alpha", Value: 5}

	if err := st.MarkNotified(ctx, rec, now); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	if err := st.MarkNotified(ctx, rec, now.Add(time.Minute)); !errors.Is(err, ErrNotNewer) {
		t.Fatalf("equal value append: err = %v, want ErrNotNewer", err)
	}
	rec.Value = 3
	if err := st.MarkNotified(ctx, rec, now.Add(time.Minute)); !errors.Is(err, ErrNotNewer) {
		t.Fatalf("smaller value append: err = %v, want ErrNotNewer", err)
	}
	rec.Value = 9
	if err := st.MarkNotified(ctx, rec, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("larger value append: %v", err)
	}
}

func TestRegressions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 3, 2, 10, 0, 0, 0, time.UTC)

	rec := grid.Record{Date: day(2020, 3, 2), Territory: "Alpha", Value: 5}
	if err := st.MarkNotified(ctx, rec, now); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	rec.Value = 3
	if err := st.ReplaceSnapshot(ctx, []grid.Record{rec}, now.Add(time.Hour)); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}

	regs, err := st.Regressions(ctx)
	if err != nil {
		t.Fatalf("Regressions: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("expected 1 regression, got %d", len(regs))
	}
	if regs[0].SnapshotValue != 3 || regs[0].NotifiedValue != 5 {
		t.Fatalf("unexpected regression: %+v", regs[0])
	}
}

func TestReplaceLiveRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 3, 2, 10, 0, 0, 0, time.UTC)

	recs := []grid.LiveRecord{
		{Territory: "Beta", Cases: 2, Deaths: 0, Recovered: 1, Severe: 0, Tested: 50, Active: 1},
		{Territory: "Alpha", Cases: 10, Deaths: 1, Recovered: 2, Severe: 1, Tested: 100, Active: 7},
	}
	if err := st.ReplaceLive(ctx, recs, now); err != nil {
		t.Fatalf("ReplaceLive: %v", err)
	}

	got, err := st.LiveLatest(ctx)
	if err != nil {
		t.Fatalf("LiveLatest: %v", err)
	}
	want := []grid.LiveRecord{recs[1], recs[0]} // ordered by territory
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected live rows:\n got %+v\nwant %+v", got, want)
	}

	// Replacement is wholesale here too.
	if err := st.ReplaceLive(ctx, recs[:1], now.Add(time.Minute)); err != nil {
		t.Fatalf("ReplaceLive: %v", err)
	}
	got, err = st.LiveLatest(ctx)
	if err != nil {
		t.Fatalf("LiveLatest: %v", err)
	}
	if len(got) != 1 || got[0].Territory != "Beta" {
		t.Fatalf("unexpected live rows after replace: %+v", got)
	}
}
