package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"postbot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	st := &sqlStore{db: stdlib.OpenDBFromPool(pool), log: log, numbered: true, onClose: pool.Close}
	if err := st.migrate(ctx, postgresMigrations); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", "postgres"), logx.Int("max_conns", int(pcfg.MaxConns)))
	return st, nil
}
