// Package storage persists pipeline jobs and the run lock in a local SQLite
// file. The schema is managed with goose migrations so it can evolve without
// losing in-flight job status.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is RFC 3339 with a zero-padded nanosecond fraction. Timestamps
// are stored as TEXT and compared lexicographically (ORDER BY, range scans),
// which is only chronological when every value has the same width; the
// trailing-zero-trimming time.RFC3339Nano would misorder sub-second siblings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the job store and run locker over one SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ports.JobStore = (*SQLiteStore)(nil)
var _ ports.RunLocker = (*SQLiteStore)(nil)

// Open connects to the database file, creating its directory if needed, and
// applies pending migrations.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; serializing connections avoids
	// SQLITE_BUSY under the store's small write load.
	db.SetMaxOpenConns(1)

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Exists reports whether the fingerprint has a job record.
func (s *SQLiteStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	query, args, err := sq.Select("1").
		From("pipeline_jobs").
		Where(sq.Eq{"fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	return true, nil
}

// Upsert inserts a new job or updates an existing one's mutable fields in a
// single transaction. CreatedAt, Origin, URL, and CollectedAt of an existing
// row are never overwritten. Re-admitting a finished fingerprint as PENDING,
// or changing the status of a DELIVERED row, fails with domain.ErrConflict.
func (s *SQLiteStore) Upsert(ctx context.Context, job domain.PipelineJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM pipeline_jobs WHERE fingerprint = ?`, job.Fingerprint,
	).Scan(&existing)

	now := time.Now().UTC()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.insert(ctx, tx, job, now); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("query existing status: %w", err)
	default:
		cur := domain.Status(existing)
		switch {
		case cur == domain.StatusCompleted && job.Status == domain.StatusPending:
			return fmt.Errorf("upsert %s: %w", job.Fingerprint, domain.ErrConflict)
		case cur == domain.StatusDelivered && job.Status != domain.StatusDelivered:
			// DELIVERED is terminal-successful: no write may move a row out
			// of it. Field-only updates that keep the status are fine.
			return fmt.Errorf("upsert %s: %w", job.Fingerprint, domain.ErrConflict)
		}
		if err := s.update(ctx, tx, job, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, job domain.PipelineJob, now time.Time) error {
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query, args, err := sq.Insert("pipeline_jobs").
		Columns("fingerprint", "url", "title", "origin", "source_ref", "status",
			"collect_retries", "generate_retries", "deliver_retries",
			"last_error", "audio_path", "workspace_id",
			"collected_at", "created_at", "updated_at", "completed_at").
		Values(job.Fingerprint, job.URL, job.Title, string(job.Origin), job.SourceRef, string(job.Status),
			job.CollectRetries, job.GenerateRetries, job.DeliverRetries,
			job.LastError, job.AudioPath, job.WorkspaceID,
			job.CollectedAt.UTC().Format(timeLayout),
			createdAt.UTC().Format(timeLayout),
			now.Format(timeLayout),
			completedAtValue(job.Status, job.CompletedAt, now)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) update(ctx context.Context, tx *sql.Tx, job domain.PipelineJob, now time.Time) error {
	builder := sq.Update("pipeline_jobs").
		Set("title", job.Title).
		Set("status", string(job.Status)).
		Set("collect_retries", job.CollectRetries).
		Set("generate_retries", job.GenerateRetries).
		Set("deliver_retries", job.DeliverRetries).
		Set("last_error", job.LastError).
		Set("audio_path", job.AudioPath).
		Set("workspace_id", job.WorkspaceID).
		Set("updated_at", now.Format(timeLayout)).
		Where(sq.Eq{"fingerprint": job.Fingerprint})

	if job.Status == domain.StatusCompleted {
		builder = builder.Set("completed_at", now.Format(timeLayout))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func completedAtValue(status domain.Status, completedAt *time.Time, now time.Time) any {
	if completedAt != nil {
		return completedAt.UTC().Format(timeLayout)
	}
	if status == domain.StatusCompleted {
		return now.Format(timeLayout)
	}
	return nil
}

// FindByStatus returns jobs in created-at order, ties broken by fingerprint,
// so a later run drains the same sequence a crashed run left behind.
func (s *SQLiteStore) FindByStatus(ctx context.Context, status domain.Status) ([]domain.PipelineJob, error) {
	query, args, err := sq.Select("fingerprint", "url", "title", "origin", "source_ref", "status",
		"collect_retries", "generate_retries", "deliver_retries",
		"last_error", "audio_path", "workspace_id",
		"collected_at", "created_at", "updated_at", "completed_at").
		From("pipeline_jobs").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at ASC", "fingerprint ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()

	var jobs []domain.PipelineJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return jobs, nil
}

func scanJob(rows *sql.Rows) (domain.PipelineJob, error) {
	var (
		job                               domain.PipelineJob
		origin, status                    string
		collectedAt, createdAt, updatedAt string
		completedAt                       sql.NullString
	)

	err := rows.Scan(&job.Fingerprint, &job.URL, &job.Title, &origin, &job.SourceRef, &status,
		&job.CollectRetries, &job.GenerateRetries, &job.DeliverRetries,
		&job.LastError, &job.AudioPath, &job.WorkspaceID,
		&collectedAt, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return domain.PipelineJob{}, fmt.Errorf("scan job: %w", err)
	}

	job.Origin = domain.Origin(origin)
	job.Status = domain.Status(status)
	if job.CollectedAt, err = time.Parse(timeLayout, collectedAt); err != nil {
		return domain.PipelineJob{}, fmt.Errorf("parse collected_at: %w", err)
	}
	if job.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return domain.PipelineJob{}, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return domain.PipelineJob{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(timeLayout, completedAt.String)
		if err != nil {
			return domain.PipelineJob{}, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &t
	}
	return job, nil
}

// SetStatus advances a job's status and last-error.
func (s *SQLiteStore) SetStatus(ctx context.Context, fingerprint string, status domain.Status, lastError string) error {
	now := time.Now().UTC()

	builder := sq.Update("pipeline_jobs").
		Set("status", string(status)).
		Set("last_error", lastError).
		Set("updated_at", now.Format(timeLayout)).
		Where(sq.Eq{"fingerprint": fingerprint})
	if status == domain.StatusCompleted {
		builder = builder.Set("completed_at", now.Format(timeLayout))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set status %s: %w", fingerprint, domain.ErrNotFound)
	}
	return nil
}

// ReclaimProcessing resets jobs left PROCESSING by a crashed or cancelled
// prior run back to PENDING.
func (s *SQLiteStore) ReclaimProcessing(ctx context.Context) (int, error) {
	query, args, err := sq.Update("pipeline_jobs").
		Set("status", string(domain.StatusPending)).
		Set("updated_at", time.Now().UTC().Format(timeLayout)).
		Where(sq.Eq{"status": string(domain.StatusProcessing)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reclaim query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

// RecentCount counts items collected at or after the given instant.
func (s *SQLiteStore) RecentCount(ctx context.Context, since time.Time) (int, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("pipeline_jobs").
		Where(sq.GtOrEq{"collected_at": since.UTC().Format(timeLayout)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("query recent count: %w", err)
	}
	return count, nil
}
