package storage

import (
	"errors"
	"time"

	kit "postbot/internal/transport"
)

var (
	ErrNotFound = errors.New("not found")
	ErrDisabled = errors.New("storage disabled")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): database file at Path
//   - "postgres": server at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgxpool default
}

type User struct {
	ID           int64
	Username     string
	FirstName    string
	Banned       bool
	CreatedAt    time.Time
	LastActivity time.Time
}

type PostStatus string

const (
	StatusPending  PostStatus = "pending"
	StatusApproved PostStatus = "approved"
	StatusRejected PostStatus = "rejected"
)

type Post struct {
	ID          int64
	UserID      int64
	Text        string
	MediaKind   kit.MediaKind
	MediaRef    string
	Anonymous   bool
	Status      PostStatus
	DecidedBy   int64
	CreatedAt   time.Time
	ReviewedAt  time.Time
	PublishedAt time.Time

	// Joined from users; empty when the author row is missing.
	Username  string
	FirstName string
}

type Admin struct {
	ID        int64
	GrantedBy int64 // 0 = bootstrapped from config
	AddedAt   time.Time
}

// PromptRef locates one delivered copy of a moderation prompt.
type PromptRef struct {
	PostID    int64
	ChatID    int64
	MessageID int
	HasMedia  bool
}

type Stats struct {
	Users    int
	Banned   int
	Posts    int
	Pending  int
	Approved int
	Rejected int
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
