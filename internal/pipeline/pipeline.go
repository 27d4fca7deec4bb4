package pipeline

import (
	"context"
	"fmt"
	"time"

	"gridwatch/internal/grid"
	"gridwatch/internal/source"
	"gridwatch/internal/store"
	"gridwatch/pkg/logx"
)

// Config carries the dedupe knobs for one poll cycle.
type Config struct {
	Cooldown    time.Duration
	StaleWindow time.Duration
}

// Pipeline runs one fetch→reshape→store→gate→notify cycle at a time.
// It owns no timing policy; the scheduler calls RunOnce on its
// interval and guarantees cycles never overlap.
type Pipeline struct {
	log   logx.Logger
	daily source.Source
	live  source.Source // nil when the live overview is disabled
	store *store.Store
	gate  *Gate
	cfg   Config

	// now is swappable for deterministic tests.
	now func() time.Time
}

func New(daily, live source.Source, st *store.Store, gate *Gate, cfg Config, log logx.Logger) *Pipeline {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		log:   log,
		daily: daily,
		live:  live,
		store: st,
		gate:  gate,
		cfg:   cfg,
		now:   time.Now,
	}
}

// RunOnce executes a single daily-series poll cycle. A failed fetch or
// an unusable grid skips the cycle; nothing is committed and the next
// scheduled run retries from scratch.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	raw, err := p.daily.Fetch(ctx)
	if err != nil {
		p.log.Warn("fetch failed; skipping cycle", logx.Err(err))
		return nil
	}

	now := p.now()
	recs := grid.ParseDaily(raw, now, p.log)
	if len(recs) == 0 {
		p.log.Warn("grid yielded no records; skipping cycle", logx.Int("rows", len(raw)))
		return nil
	}

	if err := p.store.ReplaceSnapshot(ctx, recs, now); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	p.log.Info("snapshot stored", logx.Int("records", len(recs)))

	p.auditRegressions(ctx)

	deltas, err := p.store.PendingDeltas(ctx, now, p.cfg.Cooldown, p.cfg.StaleWindow)
	if err != nil {
		return fmt.Errorf("compute deltas: %w", err)
	}
	if len(deltas) == 0 {
		p.log.Debug("no pending updates")
		return nil
	}

	marked := p.gate.Process(ctx, deltas)
	p.log.Info("cycle complete",
		logx.Int("pending", len(deltas)), logx.Int("notified", marked))
	return nil
}

// RunLiveOnce refreshes the live overview tables. Audit only; never
// notifies.
func (p *Pipeline) RunLiveOnce(ctx context.Context) error {
	if p.live == nil {
		return nil
	}
	raw, err := p.live.Fetch(ctx)
	if err != nil {
		p.log.Warn("live fetch failed; skipping cycle", logx.Err(err))
		return nil
	}
	recs := grid.ParseLive(raw, p.log)
	if len(recs) == 0 {
		p.log.Warn("live grid yielded no records; skipping cycle")
		return nil
	}
	if err := p.store.ReplaceLive(ctx, recs, p.now()); err != nil {
		return fmt.Errorf("replace live overview: %w", err)
	}
	return nil
}

// auditRegressions surfaces snapshot values that fell below an already
// notified value. The feed promises growth only, so a shrink is a
// data-quality anomaly; the snapshot stays accepted either way.
func (p *Pipeline) auditRegressions(ctx context.Context) {
	regs, err := p.store.Regressions(ctx)
	if err != nil {
		p.log.Error("regression audit failed", logx.Err(err))
		return
	}
	for _, r := range regs {
		p.log.Warn("value regression in feed",
			logx.Time("date", r.Date),
			logx.String("territory", r.Territory),
			logx.Int64("snapshot_value", r.SnapshotValue),
			logx.Int64("notified_value", r.NotifiedValue))
	}
}
