package store

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

// DB is the Postgres handle shared by every repository. Queries go through
// database/sql with the pgx driver and are built with SQL.
type DB struct {
	Client *sql.DB
}

// NewDB opens the pool and pings it once. The handle is returned even when the
// ping fails so callers can decide whether to start degraded.
func NewDB(dsn string, maxConns int) (*DB, error) {
	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	pool.SetMaxOpenConns(maxConns)
	pool.SetMaxIdleConns(maxConns / 2)
	pool.SetConnMaxLifetime(time.Hour)
	pool.SetConnMaxIdleTime(10 * time.Minute)

	db := &DB{Client: pool}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		return db, errors.Wrap(err, "ping postgres")
	}
	return db, nil
}

// Migrate runs schema.sql inside one transaction. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if d == nil || d.Client == nil {
		return errors.New("migrate: no database")
	}
	tx, err := d.Client.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin migration")
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "apply schema")
	}
	return errors.Wrap(tx.Commit(), "commit migration")
}

func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.Client.PingContext(ctx) == nil
}

func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
