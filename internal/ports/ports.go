package ports

import (
	"context"
	"time"

	"lettercast/internal/domain"
)

// Collector pulls candidate items from one source (mail account, web feed).
// Order within one collector's output is preserved by the pipeline.
type Collector interface {
	Name() string
	FetchCandidates(ctx context.Context) ([]domain.CollectedItem, error)
}

// MailReader is an optional capability of mail-backed collectors: marking the
// originating message read after its audio has been delivered.
type MailReader interface {
	MarkRead(ctx context.Context, messageID string) error
}

// GenerateResult is the outcome of one successful audio generation.
type GenerateResult struct {
	AudioPath   string
	WorkspaceID string
}

// AudioSession is the exclusive automation session held for the duration of
// one Generate stage. Only one session exists at a time; concurrent use would
// corrupt the underlying browser state.
type AudioSession interface {
	Generate(ctx context.Context, url, title string) (GenerateResult, error)
	Restart(ctx context.Context) error
	Close(ctx context.Context) error
}

// AudioGenerator owns the exclusive automation resource. AcquireSession fails
// with a session_locked error when another holder is alive. CleanupWorkspace
// is best-effort and valid without a session.
type AudioGenerator interface {
	AcquireSession(ctx context.Context) (AudioSession, error)
	CleanupWorkspace(ctx context.Context, workspaceID string) error
}

// Delivery sends a generated audio artifact to the messaging channel.
type Delivery interface {
	Send(ctx context.Context, filePath, title, sourceURL string) error
}

// JobStore is the single durable source of truth for whether a URL has ever
// been handled. Implementations must survive a crash mid-run.
type JobStore interface {
	// Exists reports whether the fingerprint has a job record.
	Exists(ctx context.Context, fingerprint string) (bool, error)

	// Upsert inserts a new job or atomically updates an existing one's mutable
	// fields. CreatedAt and Origin of an existing job are never overwritten.
	// Re-admitting a COMPLETED or DELIVERED fingerprint as PENDING fails with
	// domain.ErrConflict.
	Upsert(ctx context.Context, job domain.PipelineJob) error

	// FindByStatus returns jobs ordered by created-at ascending, ties broken
	// by fingerprint, so drains are deterministic and restartable.
	FindByStatus(ctx context.Context, status domain.Status) ([]domain.PipelineJob, error)

	// SetStatus advances a job's status and last-error.
	SetStatus(ctx context.Context, fingerprint string, status domain.Status, lastError string) error

	// ReclaimProcessing resets jobs left PROCESSING by a crashed or cancelled
	// prior run back to PENDING. Returns the number of jobs reclaimed.
	ReclaimProcessing(ctx context.Context) (int, error)

	// RecentCount counts items collected at or after the given instant.
	RecentCount(ctx context.Context, since time.Time) (int, error)
}

// RunLocker serializes orchestrator runs against one store. A lock older than
// staleAfter is presumed abandoned by a crashed run and may be reclaimed.
type RunLocker interface {
	AcquireRunLock(ctx context.Context, runID string, staleAfter time.Duration) error
	ReleaseRunLock(ctx context.Context, runID string) error
}
