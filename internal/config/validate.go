package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	kit "postbot/internal/transport"
)

// ErrConfig marks every configuration fault. Startup aborts on it.
var ErrConfig = errors.New("configuration fault")

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the whole config and reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfig)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is empty (set %s)", EnvToken)
	}
	if strings.TrimSpace(cfg.Telegram.Channel) == "" {
		add("telegram.channel is empty (set %s)", EnvChannel)
	} else if _, err := kit.ParseTarget(cfg.Telegram.Channel); err != nil {
		add("telegram.channel: %v", err)
	}
	if len(cfg.Telegram.AdminIDs) == 0 {
		add("telegram.admin_ids is empty (set %s)", EnvAdminIDs)
	}
	for _, id := range cfg.Telegram.AdminIDs {
		if id <= 0 {
			add("telegram.admin_ids: invalid id %d", id)
		}
	}

	switch cfg.Moderation.Mode {
	case "", ModePerAdmin:
	case ModeGroup:
		if strings.TrimSpace(cfg.Telegram.ReviewChat) == "" {
			add("moderation.mode=group requires telegram.review_chat (or %s)", EnvReviewChat)
		} else if _, err := kit.ParseTarget(cfg.Telegram.ReviewChat); err != nil {
			add("telegram.review_chat: %v", err)
		}
	default:
		add("moderation.mode: unknown mode %q", cfg.Moderation.Mode)
	}

	for _, f := range durationFields(cfg) {
		if _, err := f.parse(); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Broadcast.Workers < 0 || cfg.Broadcast.QueueSize < 0 {
		add("broadcast.workers and broadcast.queue_size must be >= 0")
	}

	if cfg.Digest.Enabled {
		if _, err := scheduleParser.Parse(cfg.Digest.ScheduleOrDefault()); err != nil {
			add("digest.schedule: %v", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("digest.timezone: %v", err)
		}
	}

	switch cfg.Storage.Driver {
	case "", "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.driver=postgres requires storage.dsn (or %s)", EnvDSN)
		}
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
}
