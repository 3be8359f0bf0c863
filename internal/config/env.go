package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the file.
const (
	EnvToken      = "BOT_TOKEN"
	EnvChannel    = "CHANNEL_USERNAME"
	EnvReviewChat = "REVIEW_CHAT"
	EnvAdminIDs   = "ADMIN_IDS"
	EnvDSN        = "DATABASE_URL"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays secrets and deployment specifics from the environment.
// getenv is os.Getenv in production.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvChannel)); v != "" {
		cfg.Telegram.Channel = v
	}
	if v := strings.TrimSpace(getenv(EnvReviewChat)); v != "" {
		cfg.Telegram.ReviewChat = v
	}
	if v := strings.TrimSpace(getenv(EnvAdminIDs)); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, EnvAdminIDs, err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	if v := strings.TrimSpace(getenv(EnvDSN)); v != "" {
		cfg.Storage.DSN = v
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	return nil
}

// parseIDList accepts "1,2, 3" as well as "[1, 2, 3]".
func parseIDList(s string) ([]int64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
