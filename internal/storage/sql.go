package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for dialects that number them.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	numbered bool // $1, $2 ... placeholders
	onClose  func()
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction that is committed only if fn succeeds.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// ---- users ----

func (s *sqlStore) UpsertUser(ctx context.Context, u User) (bool, error) {
	now := time.Now()
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO users(id, username, first_name, banned, created_at, last_activity)
			 VALUES(?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
			u.ID, u.Username, u.FirstName, false, now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created = true
			return nil
		}
		_, err = tx.ExecContext(ctx, s.q(
			`UPDATE users SET username = ?, first_name = ?, last_activity = ? WHERE id = ?`),
			u.Username, u.FirstName, now.UnixMilli(), u.ID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return created, nil
}

func (s *sqlStore) GetUser(ctx context.Context, id int64) (User, error) {
	var (
		u                User
		created, touched int64
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, username, first_name, banned, created_at, last_activity FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.Banned, &created, &touched)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	u.CreatedAt, u.LastActivity = fromMillis(created), fromMillis(touched)
	return u, nil
}

func (s *sqlStore) SetBanned(ctx context.Context, id int64, banned bool) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO users(id, banned, created_at, last_activity) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET banned = excluded.banned`),
		id, banned, now, now)
	if err != nil {
		return fmt.Errorf("set banned %d: %w", id, err)
	}
	return nil
}

func (s *sqlStore) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, `SELECT id FROM users WHERE banned = ? ORDER BY id`, false)
}

func (s *sqlStore) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- posts ----

func (s *sqlStore) CreatePost(ctx context.Context, p Post) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, s.q(
			`INSERT INTO posts(user_id, text, media_kind, media_ref, anonymous, status, created_at)
			 VALUES(?,?,?,?,?,?,?) RETURNING id`),
			p.UserID, p.Text, string(p.MediaKind), p.MediaRef, p.Anonymous, string(StatusPending), toMillis(p.CreatedAt)).
			Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("create post: %w", err)
	}
	return id, nil
}

const postColumns = `p.id, p.user_id, p.text, p.media_kind, p.media_ref, p.anonymous, p.status,
	p.decided_by, p.created_at, p.reviewed_at, p.published_at,
	COALESCE(u.username, ''), COALESCE(u.first_name, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (Post, error) {
	var (
		p                          Post
		kind, status               string
		created, reviewed, publish int64
	)
	if err := r.Scan(&p.ID, &p.UserID, &p.Text, &kind, &p.MediaRef, &p.Anonymous, &status,
		&p.DecidedBy, &created, &reviewed, &publish, &p.Username, &p.FirstName); err != nil {
		return Post{}, err
	}
	p.MediaKind = kit.MediaKind(kind)
	p.Status = PostStatus(status)
	p.CreatedAt, p.ReviewedAt, p.PublishedAt = fromMillis(created), fromMillis(reviewed), fromMillis(publish)
	return p, nil
}

func (s *sqlStore) GetPost(ctx context.Context, id int64) (Post, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+postColumns+` FROM posts p LEFT JOIN users u ON u.id = p.user_id WHERE p.id = ?`), id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("get post %d: %w", id, err)
	}
	return p, nil
}

func (s *sqlStore) SetPostDecision(ctx context.Context, id int64, status PostStatus, adminID int64, at time.Time) (bool, error) {
	if status != StatusApproved && status != StatusRejected {
		return false, fmt.Errorf("set post decision: invalid status %q", status)
	}
	var published int64
	if status == StatusApproved {
		published = toMillis(at)
	}
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(
			`UPDATE posts SET status = ?, decided_by = ?, reviewed_at = ?, published_at = ?
			 WHERE id = ? AND status = ?`),
			string(status), adminID, toMillis(at), published, id, string(StatusPending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		applied = n == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("set post decision %d: %w", id, err)
	}
	return applied, nil
}

func (s *sqlStore) ListPendingPosts(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+postColumns+` FROM posts p LEFT JOIN users u ON u.id = p.user_id
		 WHERE p.status = ? ORDER BY p.created_at ASC, p.id ASC`), string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountUserPosts(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM posts WHERE user_id = ?`), userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts of %d: %w", userID, err)
	}
	return n, nil
}

// ---- admins ----

func (s *sqlStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM admins WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is admin %d: %w", id, err)
	}
	return true, nil
}

func (s *sqlStore) addAdmin(ctx context.Context, ex interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, id, grantedBy int64) (bool, error) {
	res, err := ex.ExecContext(ctx, s.q(
		`INSERT INTO admins(id, granted_by, added_at) VALUES(?,?,?) ON CONFLICT(id) DO NOTHING`),
		id, grantedBy, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) AddAdmin(ctx context.Context, id, grantedBy int64) (bool, error) {
	added, err := s.addAdmin(ctx, s.db, id, grantedBy)
	if err != nil {
		return false, fmt.Errorf("add admin %d: %w", id, err)
	}
	return added, nil
}

func (s *sqlStore) BootstrapAdmins(ctx context.Context, ids []int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := s.addAdmin(ctx, tx, id, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bootstrap admins: %w", err)
	}
	return nil
}

func (s *sqlStore) RemoveAdmin(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM admins WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("remove admin %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ListAdminIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.listIDs(ctx, `SELECT id FROM admins ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return ids, nil
}

// ---- stats ----

func (s *sqlStore) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN banned = ? THEN 1 ELSE 0 END), 0) FROM users`), true).
		Scan(&st.Users, &st.Banned)
	if err != nil {
		return Stats{}, fmt.Errorf("stats users: %w", err)
	}
	err = s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM posts`), string(StatusPending), string(StatusApproved), string(StatusRejected)).
		Scan(&st.Posts, &st.Pending, &st.Approved, &st.Rejected)
	if err != nil {
		return Stats{}, fmt.Errorf("stats posts: %w", err)
	}
	return st, nil
}

// ---- moderation prompts ----

func (s *sqlStore) SavePrompt(ctx context.Context, p PromptRef) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO moderation_prompts(post_id, chat_id, message_id, has_media) VALUES(?,?,?,?)
		 ON CONFLICT(post_id, chat_id, message_id) DO NOTHING`),
		p.PostID, p.ChatID, p.MessageID, p.HasMedia)
	if err != nil {
		return fmt.Errorf("save prompt for post %d: %w", p.PostID, err)
	}
	return nil
}

func (s *sqlStore) ListPrompts(ctx context.Context, postID int64) ([]PromptRef, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT post_id, chat_id, message_id, has_media FROM moderation_prompts
		 WHERE post_id = ? ORDER BY chat_id, message_id`), postID)
	if err != nil {
		return nil, fmt.Errorf("list prompts for post %d: %w", postID, err)
	}
	defer rows.Close()
	var out []PromptRef
	for rows.Next() {
		var p PromptRef
		if err := rows.Scan(&p.PostID, &p.ChatID, &p.MessageID, &p.HasMedia); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
