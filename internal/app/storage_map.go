package app

import (
	"strings"

	"postbot/internal/config"
	"postbot/internal/moderation"
	"postbot/internal/notifier/broadcast"
	"postbot/internal/observability/metrics"
	"postbot/internal/storage"
	"postbot/internal/task/digest"
	"postbot/pkg/logx"
)

// Config sections translated into component configs. Every function here
// runs on an already validated config.

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if driver == "sqlite" && path == "" {
		path = config.DefaultSQLitePath
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: sc.BusyTimeoutOrDefault(),
		MaxConns:    int32(sc.MaxConns),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled && cfg.Telegram.LogChat != 0,
			ChatID:     cfg.Telegram.LogChat,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapModerationConfig(cfg *config.Config) moderation.Config {
	mc := moderation.Config{Mode: cfg.Moderation.ModeOrDefault()}
	if mc.Mode == moderation.ModeGroup {
		mc.ReviewChat = mustTarget(cfg.Telegram.ReviewChat)
	}
	return mc
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		Workers:   cfg.Broadcast.WorkersOrDefault(),
		QueueSize: cfg.Broadcast.QueueSizeOrDefault(),
		Delay:     cfg.Broadcast.DelayOrDefault(),
	}
}

func mapDigestConfig(cfg *config.Config) digest.Config {
	return digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: cfg.Digest.ScheduleOrDefault(),
		Timezone: strings.TrimSpace(cfg.Digest.Timezone),
	}
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.AddrOrDefault(),
		Pprof:   cfg.Metrics.Pprof,
	}
}
