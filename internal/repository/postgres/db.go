// Package postgres implements the record stores on PostgreSQL via lib/pq.
// Schema lives in migrations/.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// StatementTimeout is set as the session statement_timeout. Zero keeps
	// the server default.
	StatementTimeout time.Duration
}

// WithStatementTimeout adds statement_timeout to dsn, in URL or key=value
// form. lib/pq sends unknown parameters to the server as session settings.
// A timeout already present in dsn wins.
func WithStatementTimeout(dsn string, d time.Duration) (string, error) {
	if d <= 0 || strings.Contains(dsn, "statement_timeout") {
		return dsn, nil
	}
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return strings.TrimSpace(dsn + " statement_timeout=" + ms), nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	q.Set("statement_timeout", ms)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open connects and pings the database.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	dsn, err := WithStatementTimeout(dsn, pool.StatementTimeout)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 10
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 3
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 5 * time.Minute
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = 30 * time.Second
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
