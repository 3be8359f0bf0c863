package config

import (
	"reflect"

	"postbot/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs
// and returns log-safe attributes describing the new values. Secrets such as
// the bot token and the database DSN are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	ot.Token, nt.Token = "", ""
	if !reflect.DeepEqual(ot, nt) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.channel", nt.Channel),
			logx.Int("telegram.admin_count", len(nt.AdminIDs)),
			logx.Bool("telegram.subscription_gate", nt.SubscriptionGate),
		)
	}
	if oldCfg.Moderation != newCfg.Moderation {
		changed = append(changed, "moderation")
		attrs = append(attrs, logx.String("moderation.mode", newCfg.Moderation.ModeOrDefault()))
	}
	if oldCfg.Conversation != newCfg.Conversation {
		changed = append(changed, "conversation")
		attrs = append(attrs, logx.Duration("conversation.session_ttl", newCfg.Conversation.TTL()))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs, logx.Duration("broadcast.delay", newCfg.Broadcast.DelayOrDefault()))
	}
	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.String("digest.schedule", newCfg.Digest.ScheduleOrDefault()),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	if oldCfg.MessagesPath != newCfg.MessagesPath {
		changed = append(changed, "messages")
	}
	return changed, attrs
}
