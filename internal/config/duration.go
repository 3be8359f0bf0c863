package config

import (
	"fmt"
	"strings"
	"time"
)

// durationField is one duration-valued setting: telegram.poll_timeout,
// conversation.session_ttl, conversation.prune_interval, broadcast.delay or
// storage.busy_timeout.
type durationField struct {
	path string
	raw  string
	def  time.Duration
}

func durationFields(cfg *Config) []durationField {
	return []durationField{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout},
		{"conversation.session_ttl", cfg.Conversation.SessionTTL, DefaultSessionTTL},
		{"conversation.prune_interval", cfg.Conversation.PruneInterval, DefaultPruneInterval},
		{"broadcast.delay", cfg.Broadcast.Delay, DefaultBroadcastDelay},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout, DefaultBusyTimeout},
	}
}

// parse reads the value; empty means zero, negatives are rejected.
func (f durationField) parse() (time.Duration, error) {
	s := strings.TrimSpace(f.raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", f.path, f.raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", f.path)
	}
	return d, nil
}

// value falls back to the default for empty, zero or unparsable input.
// Validate has already reported the unparsable case.
func (f durationField) value() time.Duration {
	d, err := f.parse()
	if err != nil || d <= 0 {
		return f.def
	}
	return d
}
