package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Status   StatusConfig   `yaml:"status"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type LogConfig struct {
	Level   string  `yaml:"level"`
	Console bool    `yaml:"console"`
	File    FileLog `yaml:"file"`
}

type FileLog struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type DatabaseConfig struct {
	Path        string   `yaml:"path"`
	BusyTimeout Duration `yaml:"busy_timeout"`
}

type SourceConfig struct {
	CredentialsFile string   `yaml:"credentials_file"`
	SpreadsheetID   string   `yaml:"spreadsheet_id"`
	DailyRange      string   `yaml:"daily_range"`
	LiveRange       string   `yaml:"live_range"`
	LiveEnabled     bool     `yaml:"live_enabled"`
	PollInterval    Duration `yaml:"poll_interval"`
}

type TrackerConfig struct {
	BurstCap    int      `yaml:"burst_cap"`
	Cooldown    Duration `yaml:"cooldown"`
	StaleWindow Duration `yaml:"stale_window"`
}

type StatusConfig struct {
	Header string `yaml:"header"`
	Footer string `yaml:"footer"`
	Filler string `yaml:"filler"`
	MaxLen int    `yaml:"max_len"`
}

type NotifyConfig struct {
	RatePerSec int            `yaml:"rate_per_sec"`
	Slack      SlackConfig    `yaml:"slack"`
	Social     SocialConfig   `yaml:"social"`
	Telegram   TelegramConfig `yaml:"telegram"`
}

type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type SocialConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "INFO"
	}
	if c.Source.PollInterval.Duration <= 0 {
		c.Source.PollInterval.Duration = 60 * time.Second
	}
	if c.Tracker.BurstCap <= 0 {
		c.Tracker.BurstCap = 10
	}
	if c.Tracker.Cooldown.Duration <= 0 {
		c.Tracker.Cooldown.Duration = time.Hour
	}
	if c.Tracker.StaleWindow.Duration <= 0 {
		c.Tracker.StaleWindow.Duration = 24 * time.Hour
	}
	if c.Status.MaxLen <= 0 {
		c.Status.MaxLen = 240
	}
	if c.Notify.RatePerSec <= 0 {
		c.Notify.RatePerSec = 1
	}
	if strings.TrimSpace(c.Source.DailyRange) == "" {
		c.Source.DailyRange = "daily"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if strings.TrimSpace(c.Source.SpreadsheetID) == "" {
		return errors.New("source.spreadsheet_id is required")
	}
	if strings.TrimSpace(c.Source.CredentialsFile) == "" {
		return errors.New("source.credentials_file is required")
	}
	if c.Source.LiveEnabled && strings.TrimSpace(c.Source.LiveRange) == "" {
		return errors.New("source.live_range is required when source.live_enabled is set")
	}
	if c.Notify.Slack.Enabled && strings.TrimSpace(c.Notify.Slack.WebhookURL) == "" {
		return errors.New("notify.slack.webhook_url is required when notify.slack.enabled is set")
	}
	if c.Notify.Social.Enabled && strings.TrimSpace(c.Notify.Social.Endpoint) == "" {
		return errors.New("notify.social.endpoint is required when notify.social.enabled is set")
	}
	if c.Notify.Telegram.Enabled && strings.TrimSpace(c.Notify.Telegram.Token) == "" {
		return errors.New("notify.telegram.token is required when notify.telegram.enabled is set")
	}
	if c.Tracker.StaleWindow.Duration < time.Hour {
		return fmt.Errorf("tracker.stale_window %s is too small to ever match a date", c.Tracker.StaleWindow)
	}
	return nil
}
