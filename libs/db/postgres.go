package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// pool sizes a device's session journal: one writer plus a reader for the
// receipt view.
var pool = struct {
	open, idle        int
	lifetime, idleFor time.Duration
	ping              time.Duration
}{
	open:     4,
	idle:     2,
	lifetime: time.Hour,
	idleFor:  30 * time.Minute,
	ping:     5 * time.Second,
}

// NewPostgresDB opens a pgx backed *sql.DB and pings it before returning.
func NewPostgresDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	conn.SetMaxOpenConns(pool.open)
	conn.SetMaxIdleConns(pool.idle)
	conn.SetConnMaxLifetime(pool.lifetime)
	conn.SetConnMaxIdleTime(pool.idleFor)

	pingCtx, cancel := context.WithTimeout(ctx, pool.ping)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return conn, nil
}

// ApplySchema runs idempotent DDL statements separated by semicolons.
func ApplySchema(ctx context.Context, conn *sql.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db: apply schema: %w", err)
		}
	}
	return nil
}
