package pipeline

import (
	"context"
	"errors"
	"time"

	"gridwatch/internal/grid"
	"gridwatch/internal/store"
	"gridwatch/pkg/logx"
)

// NotifyLog is the slice of the store the gate needs: totals for
// message composition and the append-only notification log.
type NotifyLog interface {
	TerritoryTotal(ctx context.Context, territory string) (int64, error)
	MarkNotified(ctx context.Context, rec grid.Record, at time.Time) error
}

// Deliverer hands a composed status to the outbound channels and
// reports how many accepted it.
type Deliverer interface {
	Deliver(ctx context.Context, status string) (int, error)
}

// Gate decides which pending delta records actually go out. An
// oversized batch smells like a broken sheet layout rather than a real
// surge, so it is suppressed wholesale and nothing is logged as
// notified.
type Gate struct {
	log      logx.Logger
	store    NotifyLog
	deliver  Deliverer
	composer *Composer
	burstCap int
	now      func() time.Time
}

func NewGate(st NotifyLog, d Deliverer, c *Composer, burstCap int, log logx.Logger) *Gate {
	if burstCap <= 0 {
		burstCap = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{
		log:      log,
		store:    st,
		deliver:  d,
		composer: c,
		burstCap: burstCap,
		now:      time.Now,
	}
}

// Process announces each delta record and marks it notified once at
// least one channel delivered it. Returns how many records were
// marked.
//
// Failure handling is per record: a channel rejection keeps that
// record unmarked (it will come back after the cool-down) without
// touching its already-delivered siblings.
func (g *Gate) Process(ctx context.Context, deltas []grid.Record) int {
	if len(deltas) == 0 {
		return 0
	}
	if len(deltas) > g.burstCap {
		g.log.Warn("delta burst exceeds cap; suppressing whole batch",
			logx.Int("size", len(deltas)), logx.Int("cap", g.burstCap))
		return 0
	}

	marked := 0
	for _, rec := range deltas {
		total, err := g.store.TerritoryTotal(ctx, rec.Territory)
		if err != nil {
			g.log.Error("territory total lookup failed",
				logx.String("territory", rec.Territory), logx.Err(err))
			continue
		}
		status := g.composer.Compose(rec.Territory, rec.Value, total)

		delivered, err := g.deliver.Deliver(ctx, status)
		if delivered == 0 {
			g.log.Warn("no channel accepted status; will retry after cool-down",
				logx.String("territory", rec.Territory),
				logx.Time("date", rec.Date), logx.Err(err))
			continue
		}
		if err != nil {
			g.log.Warn("partial delivery", logx.String("territory", rec.Territory),
				logx.Int("delivered", delivered), logx.Err(err))
		}

		if err := g.store.MarkNotified(ctx, rec, g.now()); err != nil {
			if errors.Is(err, store.ErrNotNewer) {
				g.log.Warn("notification log already ahead of delivered value",
					logx.String("territory", rec.Territory),
					logx.Int64("value", rec.Value))
				continue
			}
			g.log.Error("failed to mark record notified",
				logx.String("territory", rec.Territory), logx.Err(err))
			continue
		}
		marked++
	}
	return marked
}
