package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formgate/internal/constants"
)

// SQLiteStore persists windows in the rate_windows table created by
// pkg/migrations. The database handle is expected to allow a single open
// connection, which serializes transactions.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Name() string {
	return constants.StoreTypeSQLite
}

func (s *SQLiteStore) LoadAndUpdate(ctx context.Context, key string, fn UpdateFunc) (err error) {
	start := time.Now()
	defer func() { observeStore(s.Name(), start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT timestamps FROM rate_windows WHERE key = ?`, key).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load window: %w", err)
	}

	next := fn(decodeWindow([]byte(raw)))

	if len(next) == 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM rate_windows WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete window: %w", err)
		}
	} else {
		encoded, encErr := encodeWindow(next)
		if encErr != nil {
			return encErr
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rate_windows (key, timestamps, newest) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET timestamps = excluded.timestamps, newest = excluded.newest`,
			key, string(encoded), newest(next),
		)
		if err != nil {
			return fmt.Errorf("failed to store window: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit window: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Reclaim(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_windows WHERE newest < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim windows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
