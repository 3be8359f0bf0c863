package config

import "time"

// Config is the root of config.yaml (or config.json).
//
// Secrets are normally left out of the file and supplied via the environment,
// see ApplyEnv.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Moderation   ModerationConfig   `json:"moderation"`
	Conversation ConversationConfig `json:"conversation"`
	Broadcast    BroadcastConfig    `json:"broadcast"`
	Digest       DigestConfig       `json:"digest"`
	Storage      StorageConfig      `json:"storage"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`

	// MessagesPath points at an optional YAML file overriding message templates.
	MessagesPath string `json:"messages_path,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// Channel is the public channel (@username) approved posts are published to.
	Channel string `json:"channel"`
	// ReviewChat is the moderation group (@username or numeric id), used when moderation.mode=group.
	ReviewChat string `json:"review_chat,omitempty"`
	// AdminIDs are granted admin rights on every start.
	AdminIDs []int64 `json:"admin_ids"`
	// SubscriptionGate requires users to follow Channel before writing posts.
	SubscriptionGate bool `json:"subscription_gate"`
	// LogChat receives log lines when logging.telegram.enabled is set.
	LogChat int64 `json:"log_chat,omitempty"`
}

const (
	ModePerAdmin = "per_admin"
	ModeGroup    = "group"
)

type ModerationConfig struct {
	// Mode is "per_admin" (default) or "group".
	Mode string `json:"mode,omitempty"`
}

type ConversationConfig struct {
	// SessionTTL drops sessions untouched for this long (default 24h).
	SessionTTL string `json:"session_ttl,omitempty"`
	// PruneInterval is how often stale sessions are swept (default 10m).
	PruneInterval string `json:"prune_interval,omitempty"`
}

type BroadcastConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// Delay is the pause between two recipients (default 100ms).
	Delay string `json:"delay,omitempty"`
}

type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a 5-field cron spec or descriptor (default "@every 6h").
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig selects the storage backend.
//
// Example:
//
//	storage: { driver: sqlite, path: ./postbot.db }
//	storage: { driver: postgres, dsn: postgres://bot@localhost/postbot }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // sqlite (default) | postgres
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int    `json:"max_conns,omitempty"`    // postgres
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
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:9090
	// Pprof also mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}

// Defaults applied when a field is omitted.
const (
	DefaultPollTimeout     = 10 * time.Second
	DefaultSessionTTL      = 24 * time.Hour
	DefaultPruneInterval   = 10 * time.Minute
	DefaultBroadcastDelay  = 100 * time.Millisecond
	DefaultBroadcastQueue  = 16
	DefaultBroadcastWorker = 2
	DefaultDigestSchedule  = "@every 6h"
	DefaultMetricsAddr     = "127.0.0.1:9090"
	DefaultSQLitePath      = "./postbot.db"
	DefaultBusyTimeout     = time.Second
)

func (c TelegramConfig) PollTimeoutOrDefault() time.Duration {
	return durationField{"telegram.poll_timeout", c.PollTimeout, DefaultPollTimeout}.value()
}

func (c ModerationConfig) ModeOrDefault() string {
	if c.Mode == "" {
		return ModePerAdmin
	}
	return c.Mode
}

func (c ConversationConfig) TTL() time.Duration {
	return durationField{"conversation.session_ttl", c.SessionTTL, DefaultSessionTTL}.value()
}

func (c ConversationConfig) PruneEvery() time.Duration {
	return durationField{"conversation.prune_interval", c.PruneInterval, DefaultPruneInterval}.value()
}

func (c BroadcastConfig) DelayOrDefault() time.Duration {
	return durationField{"broadcast.delay", c.Delay, DefaultBroadcastDelay}.value()
}

func (c StorageConfig) BusyTimeoutOrDefault() time.Duration {
	return durationField{"storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout}.value()
}

func (c BroadcastConfig) WorkersOrDefault() int {
	if c.Workers <= 0 {
		return DefaultBroadcastWorker
	}
	return c.Workers
}

func (c BroadcastConfig) QueueSizeOrDefault() int {
	if c.QueueSize <= 0 {
		return DefaultBroadcastQueue
	}
	return c.QueueSize
}

func (c DigestConfig) ScheduleOrDefault() string {
	if c.Schedule == "" {
		return DefaultDigestSchedule
	}
	return c.Schedule
}

func (c MetricsConfig) AddrOrDefault() string {
	if c.Addr == "" {
		return DefaultMetricsAddr
	}
	return c.Addr
}
