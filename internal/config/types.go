package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Channels  ChannelsConfig  `json:"channels"`
	WOM       WOMConfig       `json:"wom"`
	AI        AIConfig        `json:"ai"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs may run admin commands (create/cancel events, grant
	// tickets, review submissions).
	AdminUserIDs []int64 `json:"admin_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}
type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Interval between due-event ticks, a Go duration string. Default "1m".
	Interval string `json:"interval"`
	Timezone string `json:"timezone,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string for the sqlite busy handler.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ChannelsConfig maps event kinds to the chats where their messages live.
type ChannelsConfig struct {
	Announce int64 `json:"announce"`
	Giveaway int64 `json:"giveaway"`
	Raffle   int64 `json:"raffle"`
	Pvm      int64 `json:"pvm"`
	Bingo    int64 `json:"bingo"`
	Sotw     int64 `json:"sotw"`
}

type WOMConfig struct {
	ClanID           int64  `json:"clan_id"`
	VerificationCode string `json:"verification_code"`
	BaseURL          string `json:"base_url,omitempty"`
}

type AIConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// UnmarshalJSON disallows unknown fields so removed legacy keys are caught
// early during config reload.
func (c *Config) UnmarshalJSON(b []byte) error {
	type alias Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t alias
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*c = Config(t)
	return nil
}

// ParseDuration parses an optional duration field, returning def when empty.
func ParseDuration(field, s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}
	return d, nil
}
