// Package history journals finished sessions for the receipt view.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"fuelpay/internal/models"
	"fuelpay/libs/db"
)

//go:embed schema.sql
var Schema string

// ErrNotFound indicates an unknown transaction.
var ErrNotFound = errors.New("history: session not found")

// Journal records finished sessions.
type Journal interface {
	Record(ctx context.Context, rec models.SessionRecord) error
}

// Repository handles persistence of session records.
type Repository struct {
	db *sql.DB
}

// NewRepository returns repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Repository, *sql.DB, error) {
	conn, err := db.NewPostgresDB(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.ApplySchema(ctx, conn, Schema); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return NewRepository(conn), conn, nil
}

// Record inserts or replaces the record for its transaction id.
func (r *Repository) Record(ctx context.Context, rec models.SessionRecord) error {
	const query = `
		INSERT INTO fueling_sessions (transaction_id, station_id, pump_id, pump_type, amount, state, product_info, started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (transaction_id) DO UPDATE SET
			station_id = EXCLUDED.station_id,
			pump_id = EXCLUDED.pump_id,
			pump_type = EXCLUDED.pump_type,
			amount = EXCLUDED.amount,
			state = EXCLUDED.state,
			product_info = EXCLUDED.product_info,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = NOW()
	`
	var finished sql.NullTime
	if !rec.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: rec.FinishedAt.UTC(), Valid: true}
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.TransactionID,
		rec.StationID,
		rec.PumpID,
		string(rec.PumpType),
		rec.Amount,
		string(rec.State),
		rec.ProductInfo,
		started.UTC(),
		finished,
	)
	return err
}

// Get returns the record for a transaction.
func (r *Repository) Get(ctx context.Context, transactionID string) (models.SessionRecord, error) {
	const query = `
		SELECT transaction_id, station_id, pump_id, pump_type, amount, state, product_info, started_at, finished_at
		FROM fueling_sessions
		WHERE transaction_id = $1
	`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// Recent returns the last N sessions, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT transaction_id, station_id, pump_id, pump_type, amount, state, product_info, started_at, finished_at
		FROM fueling_sessions
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.SessionRecord, error) {
	var (
		rec      models.SessionRecord
		pumpType string
		state    string
		finished sql.NullTime
	)
	if err := row.Scan(
		&rec.TransactionID,
		&rec.StationID,
		&rec.PumpID,
		&pumpType,
		&rec.Amount,
		&state,
		&rec.ProductInfo,
		&rec.StartedAt,
		&finished,
	); err != nil {
		return models.SessionRecord{}, err
	}
	rec.PumpType = models.PumpType(pumpType)
	rec.State = models.LifecycleState(state)
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return rec, nil
}
