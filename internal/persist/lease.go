package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteLease is the workspace-wide run lease kept in the run_lease table. At most one
// unexpired row exists, so at most one session across all processes runs an analysis.
type SQLiteLease struct {
	DB    *sql.DB
	Owner string
	Now   func() time.Time
}

// NewSQLiteLease returns a lease handle with a fresh owner id for this session.
func NewSQLiteLease(db *sql.DB, now func() time.Time) *SQLiteLease {
	if now == nil {
		now = time.Now
	}
	return &SQLiteLease{DB: db, Owner: uuid.NewString(), Now: now}
}

// Acquire claims the lease for taskID until ttl elapses. When another live run holds
// it, ok is false and holder names that run's task.
func (l *SQLiteLease) Acquire(ctx context.Context, taskID string, ttl time.Duration) (holder string, ok bool, err error) {
	now := l.Now()
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_lease WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
		return "", false, fmt.Errorf("expire run lease: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO run_lease(slot,task_id,owner,expires_at) VALUES (1,?,?,?)
ON CONFLICT(slot) DO NOTHING`, taskID, l.Owner, now.Add(ttl).UnixMilli())
	if err != nil {
		return "", false, fmt.Errorf("claim run lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		if err := tx.QueryRowContext(ctx, `SELECT task_id FROM run_lease WHERE slot=1`).Scan(&holder); err != nil {
			return "", false, fmt.Errorf("read run lease: %w", err)
		}
		return holder, false, tx.Commit()
	}
	return taskID, true, tx.Commit()
}

// Release drops the lease if this session still holds it for taskID.
func (l *SQLiteLease) Release(ctx context.Context, taskID string) error {
	_, err := l.DB.ExecContext(ctx, `DELETE FROM run_lease WHERE slot=1 AND owner=? AND task_id=?`, l.Owner, taskID)
	return err
}

// Held returns the task of the live run, if any session holds an unexpired lease.
func (l *SQLiteLease) Held(ctx context.Context) (string, bool, error) {
	var taskID string
	err := l.DB.QueryRowContext(ctx, `SELECT task_id FROM run_lease WHERE slot=1 AND expires_at > ?`, l.Now().UnixMilli()).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return taskID, true, nil
}
