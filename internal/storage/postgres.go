package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	logx "safenotify/pkg/logx"
)

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// The *sql.DB shares the pool; closing the pool releases both.
	db := stdlib.OpenDBFromPool(pool)
	st := newSQLStore(db, goose.DialectPostgres, log.With(logx.String("driver", "postgres")))
	st.closeFn = func() error {
		err := db.Close()
		pool.Close()
		return err
	}
	if err := st.migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", "postgres"), logx.Int("max_conns", int(pcfg.MaxConns)))
	return st, nil
}
