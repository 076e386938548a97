package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lettercast/internal/domain"
)

// AcquireRunLock claims the single run lock. A lock whose holder has been
// alive for less than staleAfter blocks the new run with domain.ErrRunLockHeld;
// an older lock is presumed abandoned by a crashed run and is reclaimed.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context, runID string, staleAfter time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lock acquire: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		holder     string
		acquiredAt string
	)
	err = tx.QueryRowContext(ctx, `SELECT run_id, acquired_at FROM run_locks WHERE id = 1`).
		Scan(&holder, &acquiredAt)

	now := time.Now().UTC()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_locks (id, run_id, acquired_at) VALUES (1, ?, ?)`,
			runID, now.Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert run lock: %w", err)
		}
	case err != nil:
		return fmt.Errorf("query run lock: %w", err)
	default:
		held, parseErr := time.Parse(timeLayout, acquiredAt)
		if parseErr != nil {
			return fmt.Errorf("parse lock acquired_at: %w", parseErr)
		}
		if now.Sub(held) < staleAfter {
			return fmt.Errorf("held by run %s since %s: %w", holder, acquiredAt, domain.ErrRunLockHeld)
		}
		s.logger.Warn("reclaiming stale run lock",
			"previous_run", holder, "acquired_at", acquiredAt)
		_, err = tx.ExecContext(ctx,
			`UPDATE run_locks SET run_id = ?, acquired_at = ? WHERE id = 1`,
			runID, now.Format(timeLayout))
		if err != nil {
			return fmt.Errorf("reclaim run lock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lock acquire: %w", err)
	}
	return nil
}

// ReleaseRunLock frees the lock if this run still holds it. Releasing a lock
// reclaimed by a newer run is a no-op.
func (s *SQLiteStore) ReleaseRunLock(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_locks WHERE id = 1 AND run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
