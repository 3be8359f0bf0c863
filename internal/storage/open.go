package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postbot/pkg/logx"
)

// Store is the persistence API of the bot. Implementations are safe for
// concurrent use.
type Store interface {
	// UpsertUser records an interaction and reports whether the user is new.
	UpsertUser(ctx context.Context, u User) (bool, error)
	GetUser(ctx context.Context, id int64) (User, error)
	// SetBanned creates the user row when it does not exist yet.
	SetBanned(ctx context.Context, id int64, banned bool) error
	ListActiveUserIDs(ctx context.Context) ([]int64, error)

	CreatePost(ctx context.Context, p Post) (int64, error)
	GetPost(ctx context.Context, id int64) (Post, error)
	// SetPostDecision moves a pending post to status and reports whether it did.
	SetPostDecision(ctx context.Context, id int64, status PostStatus, adminID int64, at time.Time) (bool, error)
	ListPendingPosts(ctx context.Context) ([]Post, error)
	CountUserPosts(ctx context.Context, userID int64) (int, error)

	IsAdmin(ctx context.Context, id int64) (bool, error)
	AddAdmin(ctx context.Context, id, grantedBy int64) (bool, error)
	RemoveAdmin(ctx context.Context, id int64) (bool, error)
	ListAdminIDs(ctx context.Context) ([]int64, error)
	BootstrapAdmins(ctx context.Context, ids []int64) error

	GetStats(ctx context.Context) (Stats, error)

	SavePrompt(ctx context.Context, p PromptRef) error
	ListPrompts(ctx context.Context, postID int64) ([]PromptRef, error)

	Close() error
}

// Open initializes the configured backend and applies its migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
