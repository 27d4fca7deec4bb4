package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gridwatch/internal/grid"
	"gridwatch/internal/store"
	"gridwatch/pkg/logx"
)

type fakeLog struct {
	totals  map[string]int64
	marked  []grid.Record
	markErr error
}

func (f *fakeLog) TerritoryTotal(_ context.Context, territory string) (int64, error) {
	return f.totals[territory], nil
}

func (f *fakeLog) MarkNotified(_ context.Context, rec grid.Record, _ time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, rec)
	return nil
}

type fakeDeliverer struct {
	delivered int
	err       error
	statuses  []string
}

func (f *fakeDeliverer) Deliver(_ context.Context, status string) (int, error) {
	f.statuses = append(f.statuses, status)
	return f.delivered, f.err
}

func deltasOf(n int) []grid.Record {
	out := make([]grid.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, grid.Record{
			Date:      time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
			Territory: fmt.Sprintf("T%02d", i),
			Value:     int64(i + 1),
		})
	}
	return out
}

func newTestGate(st *fakeLog, d *fakeDeliverer, burstCap int) *Gate {
	return NewGate(st, d, NewComposer(Template{}), burstCap, logx.Nop())
}

func TestGateDeliversAndMarks(t *testing.T) {
	st := &fakeLog{totals: map[string]int64{"T00": 1, "T01": 10}}
	d := &fakeDeliverer{delivered: 1}
	g := newTestGate(st, d, 10)

	marked := g.Process(context.Background(), deltasOf(2))
	if marked != 2 {
		t.Fatalf("marked = %d, want 2", marked)
	}
	if len(st.marked) != 2 {
		t.Fatalf("notification log got %d appends, want 2", len(st.marked))
	}
	if len(d.statuses) != 2 {
		t.Fatalf("delivered %d statuses, want 2", len(d.statuses))
	}
}

func TestGateBurstSuppression(t *testing.T) {
	st := &fakeLog{totals: map[string]int64{}}
	d := &fakeDeliverer{delivered: 1}
	g := newTestGate(st, d, 10)

	marked := g.Process(context.Background(), deltasOf(11))
	if marked != 0 {
		t.Fatalf("marked = %d, want 0 for suppressed burst", marked)
	}
	if len(d.statuses) != 0 {
		t.Fatalf("suppressed burst still posted %d statuses", len(d.statuses))
	}
	if len(st.marked) != 0 {
		t.Fatalf("suppressed burst still appended %d log entries", len(st.marked))
	}
}

func TestGateBurstAtCapGoesThrough(t *testing.T) {
	st := &fakeLog{totals: map[string]int64{}}
	d := &fakeDeliverer{delivered: 1}
	g := newTestGate(st, d, 10)

	if marked := g.Process(context.Background(), deltasOf(10)); marked != 10 {
		t.Fatalf("marked = %d, want 10 at exactly the cap", marked)
	}
}

func TestGateFailedDeliveryStaysUnmarked(t *testing.T) {
	st := &fakeLog{totals: map[string]int64{}}
	d := &fakeDeliverer{delivered: 0, err: errors.New("webhook down")}
	g := newTestGate(st, d, 10)

	if marked := g.Process(context.Background(), deltasOf(3)); marked != 0 {
		t.Fatalf("marked = %d, want 0 when nothing was delivered", marked)
	}
	if len(st.marked) != 0 {
		t.Fatalf("undelivered records were logged as notified: %+v", st.marked)
	}
}

func TestGatePartialDeliveryMarks(t *testing.T) {
	st := &fakeLog{totals: map[string]int64{}}
	d := &fakeDeliverer{delivered: 1, err: errors.New("second channel down")}
	g := newTestGate(st, d, 10)

	if marked := g.Process(context.Background(), deltasOf(1)); marked != 1 {
		t.Fatalf("marked = %d, want 1 when at least one channel delivered", marked)
	}
}

func TestGateNotNewerIsNotCounted(t *testing.T) {
	st := &fakeLog{totals: map[string]int64{}, markErr: store.ErrNotNewer}
	d := &fakeDeliverer{delivered: 1}
	g := newTestGate(st, d, 10)

	if marked := g.Process(context.Background(), deltasOf(1)); marked != 0 {
		t.Fatalf("marked = %d, want 0 when the log is already ahead", marked)
	}
}
