package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"gridwatch/internal/config"
	"gridwatch/internal/notify"
	"gridwatch/internal/pipeline"
	"gridwatch/internal/source"
	"gridwatch/internal/store"
	"gridwatch/pkg/logx"
)

// App owns the process lifecycle: config, logging, storage, outbound
// channels, the poll pipeline and its schedule. Dependencies are
// created once here and passed down; nothing re-acquires a handle
// mid-run.
type App struct {
	cfgPath string

	logSvc    *logx.Service
	log       logx.Logger
	st        *store.Store
	notifySvc *notify.Service
	pipe      *pipeline.Pipeline
	cron      *cron.Cron
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logCfg(cfg))

	st, err := store.Open(store.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout.Duration,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	notifySvc := notify.New(cfg.Notify.RatePerSec, log.With(logx.String("component", "notify")))
	notifySvc.SetPosters(buildPosters(cfg, log)...)

	client, err := source.NewSheetsClient(ctx, source.Config{
		CredentialsFile: cfg.Source.CredentialsFile,
		SpreadsheetID:   cfg.Source.SpreadsheetID,
	})
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	daily := client.Range(cfg.Source.DailyRange)
	var live source.Source
	if cfg.Source.LiveEnabled {
		live = client.Range(cfg.Source.LiveRange)
	}

	composer := pipeline.NewComposer(pipeline.Template{
		Header: cfg.Status.Header,
		Footer: cfg.Status.Footer,
		Filler: cfg.Status.Filler,
		MaxLen: cfg.Status.MaxLen,
	})
	gate := pipeline.NewGate(st, notifySvc, composer, cfg.Tracker.BurstCap,
		log.With(logx.String("component", "gate")))
	pipe := pipeline.New(daily, live, st, gate, pipeline.Config{
		Cooldown:    cfg.Tracker.Cooldown.Duration,
		StaleWindow: cfg.Tracker.StaleWindow.Duration,
	}, log.With(logx.String("component", "pipeline")))

	a := &App{
		cfgPath:   cfgPath,
		logSvc:    logSvc,
		log:       log,
		st:        st,
		notifySvc: notifySvc,
		pipe:      pipe,
		// SkipIfStillRunning keeps at most one cycle in flight; the core
		// relies on never seeing overlapping cycles.
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}

	every := fmt.Sprintf("@every %s", cfg.Source.PollInterval.Duration)
	if _, err := a.cron.AddFunc(every, func() { a.runDaily() }); err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("schedule daily poll: %w", err)
	}
	if cfg.Source.LiveEnabled {
		if _, err := a.cron.AddFunc(every, func() { a.runLive() }); err != nil {
			_ = st.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("schedule live poll: %w", err)
		}
	}

	log.Info("configured",
		logx.Duration("poll_interval", cfg.Source.PollInterval.Duration),
		logx.Int("burst_cap", cfg.Tracker.BurstCap),
		logx.Duration("cooldown", cfg.Tracker.Cooldown.Duration),
		logx.Duration("stale_window", cfg.Tracker.StaleWindow.Duration),
		logx.Bool("live_enabled", cfg.Source.LiveEnabled))
	return a, nil
}

// Run blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	go func() {
		if err := config.Watch(ctx, a.cfgPath, a.applyConfig); err != nil {
			a.log.Warn("config watcher failed; hot reload disabled", logx.Err(err))
		}
	}()

	// First cycle right away; @every waits a full interval before
	// firing, and a fresh deploy should not sit idle for a minute.
	a.runDaily()
	a.runLive()
	a.cron.Start()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.startWatchdog(ctx)

	<-ctx.Done()
	a.log.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopped := a.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		a.log.Warn("cycle still running at shutdown; abandoning")
	}

	_ = a.st.Close()
	return a.logSvc.Close()
}

func (a *App) runDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := a.pipe.RunOnce(ctx); err != nil {
		a.log.Error("poll cycle failed", logx.Err(err))
	}
}

func (a *App) runLive() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := a.pipe.RunLiveOnce(ctx); err != nil {
		a.log.Error("live poll cycle failed", logx.Err(err))
	}
}

// applyConfig handles hot reload. Only log settings and notifier
// toggles apply live; structural changes (database path, spreadsheet,
// poll interval) need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logCfg(cfg))
	a.notifySvc.SetPosters(buildPosters(cfg, a.log)...)
	a.log.Info("config reloaded", logx.String("level", cfg.Log.Level))
}

func (a *App) startWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File: logx.FileConfig{
			Enabled: cfg.Log.File.Enabled,
			Path:    cfg.Log.File.Path,
		},
	}
}

func buildPosters(cfg *config.Config, log logx.Logger) []notify.Poster {
	var posters []notify.Poster
	if cfg.Notify.Slack.Enabled {
		p, err := notify.NewSlack(cfg.Notify.Slack.WebhookURL)
		if err != nil {
			log.Warn("slack channel disabled", logx.Err(err))
		} else {
			posters = append(posters, p)
		}
	}
	if cfg.Notify.Social.Enabled {
		p, err := notify.NewSocial(cfg.Notify.Social.Endpoint, cfg.Notify.Social.Token)
		if err != nil {
			log.Warn("social channel disabled", logx.Err(err))
		} else {
			posters = append(posters, p)
		}
	}
	if cfg.Notify.Telegram.Enabled {
		p, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			log.Warn("telegram channel disabled", logx.Err(err))
		} else {
			posters = append(posters, p)
		}
	}
	if len(posters) == 0 {
		log.Warn("no notification channels enabled; updates will only be stored")
	}
	return posters
}
