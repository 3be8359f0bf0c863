// Package storage persists users, posts, admins and moderation prompt
// locations. SQLite (modernc, pure Go) is the default backend; Postgres is
// reached through a pgx pool exposed as database/sql.
package storage
