package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Canvas    CanvasConfig    `json:"canvas"`
	Discord   DiscordConfig   `json:"discord,omitempty"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Reminders RemindersConfig `json:"reminders,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Server    ServerConfig    `json:"server,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// CanvasConfig points at the upstream assignment feed.
//
// Token falls back to the CANVAS_API_TOKEN environment variable so the
// config file can be committed without secrets.
type CanvasConfig struct {
	// BaseURL is the Canvas instance root, e.g. "https://school.instructure.com".
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	// CourseID restricts the feed to one course. Empty means all active courses.
	CourseID string `json:"course_id,omitempty"`
	// Timeout is a Go duration string for feed HTTP calls (default "10s").
	Timeout string `json:"timeout,omitempty"`
}

// DiscordConfig enables the Discord DM channel when both fields resolve.
// Env fallbacks: DISCORD_BOT_TOKEN, DISCORD_USER_ID.
type DiscordConfig struct {
	BotToken string `json:"bot_token,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// TelegramConfig enables the Telegram channel when both fields resolve.
// Env fallbacks: TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID.
type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// RemindersConfig controls the decision engine and the check cycle.
//
// All durations are Go duration strings (e.g. "2m", "60s", "168h").
//
// Defaults (when fields are omitted/zero):
//   - offsets: ["1h", "45m", "30m", "15m"]
//   - match_window: "2m"
//   - horizon: "168h" (7 days)
//   - tick: "1m"
//   - retention: "24h"
//   - prune_schedule: "0 4 * * *"
//   - cycle_timeout: "45s"
type RemindersConfig struct {
	// Offsets are lead times before the due instant, most distant first.
	Offsets []string `json:"offsets,omitempty"`
	// MatchWindow is how long after a target instant a tick still counts.
	// Keep it wider than the tick interval or targets can fall between ticks.
	MatchWindow string `json:"match_window,omitempty"`
	// Horizon caps how far into the future assignments are considered.
	Horizon string `json:"horizon,omitempty"`
	// Tick is the interval between automatic check cycles.
	Tick string `json:"tick,omitempty"`
	// Retention bounds how long delivery records outlive their last write.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec for the state-pruning sweep.
	PruneSchedule string `json:"prune_schedule,omitempty"`
	// CycleTimeout bounds a single check cycle end to end.
	CycleTimeout string `json:"cycle_timeout,omitempty"`
}

// StorageConfig selects the reminder-state backend.
//
// Driver values:
//   - "file" (default): JSON snapshot, atomically replaced on save
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ServerConfig controls the admin HTTP API.
type ServerConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"` // default "127.0.0.1:8321"
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Validate rejects configs the daemon cannot start with. It runs after
// env fallbacks have been applied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Canvas.BaseURL) == "" {
		return errors.New("canvas.base_url is required")
	}
	if strings.TrimSpace(c.Canvas.Token) == "" {
		return errors.New("canvas.token is required (or set CANVAS_API_TOKEN)")
	}
	if !c.Discord.Configured() && !c.Telegram.Configured() {
		return errors.New("no notification channel configured: set discord.bot_token+discord.user_id or telegram.token+telegram.chat_id")
	}
	if _, err := c.Reminders.ParseOffsets(); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"reminders.match_window", c.Reminders.MatchWindow},
		{"reminders.horizon", c.Reminders.Horizon},
		{"reminders.tick", c.Reminders.Tick},
		{"reminders.retention", c.Reminders.Retention},
		{"reminders.cycle_timeout", c.Reminders.CycleTimeout},
		{"canvas.timeout", c.Canvas.Timeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func (d DiscordConfig) Configured() bool {
	return strings.TrimSpace(d.BotToken) != "" && strings.TrimSpace(d.UserID) != ""
}

func (t TelegramConfig) Configured() bool {
	return strings.TrimSpace(t.Token) != "" && t.ChatID != 0
}

// ParseOffsets parses the configured lead times. A nil result means
// "use the engine defaults" (the 60/45/30/15 minute ladder).
func (r RemindersConfig) ParseOffsets() ([]time.Duration, error) {
	if len(r.Offsets) == 0 {
		return nil, nil
	}
	out := make([]time.Duration, 0, len(r.Offsets))
	for i, raw := range r.Offsets {
		d, err := ParseDurationField(fmt.Sprintf("reminders.offsets[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("reminders.offsets[%d]: must be > 0", i)
		}
		out = append(out, d)
	}
	return out, nil
}
