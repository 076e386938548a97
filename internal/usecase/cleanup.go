package usecase

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

// CleanupStage removes leftover temporary artifacts and external workspaces
// after a run, regardless of how the run went. Files of COMPLETED jobs are
// left alone: they are still awaiting a delivery retry. Every step here is
// best-effort; a cleanup failure must never abort or fail the run.
type CleanupStage struct {
	store      ports.JobStore
	generator  ports.AudioGenerator
	logger     *slog.Logger
	removeFile func(string) error
}

// NewCleanupStage wires the store and the automation collaborator used for
// workspace deletion. generator may be nil (collect-only configurations).
func NewCleanupStage(store ports.JobStore, generator ports.AudioGenerator, logger *slog.Logger) *CleanupStage {
	return &CleanupStage{
		store:      store,
		generator:  generator,
		logger:     logger,
		removeFile: os.Remove,
	}
}

// Run sweeps DELIVERED and FAILED jobs. Cleared fields are persisted so the
// next run does not re-sweep the same artifacts.
func (s *CleanupStage) Run(ctx context.Context) {
	s.sweep(ctx, domain.StatusDelivered, true)
	s.sweep(ctx, domain.StatusFailed, false)
}

// sweep releases a job's leftover resources. removeAudio is only set for
// DELIVERED jobs: FAILED jobs keep their audio file as the local-retention
// fallback for persistently broken delivery.
func (s *CleanupStage) sweep(ctx context.Context, status domain.Status, removeAudio bool) {
	jobs, err := s.store.FindByStatus(ctx, status)
	if err != nil {
		s.logger.Warn("cleanup: load jobs", "status", status, "error", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}

		changed := false

		if removeAudio && job.AudioPath != "" {
			if err := s.removeFile(job.AudioPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("cleanup: remove audio file", "path", job.AudioPath, "error", err)
			} else {
				job.AudioPath = ""
				changed = true
			}
		}

		if job.WorkspaceID != "" && s.generator != nil {
			if err := s.generator.CleanupWorkspace(ctx, job.WorkspaceID); err != nil {
				s.logger.Warn("cleanup: workspace", "workspace", job.WorkspaceID, "error", err)
			} else {
				job.WorkspaceID = ""
				changed = true
			}
		}

		if changed {
			if err := s.store.Upsert(ctx, job); err != nil {
				s.logger.Warn("cleanup: persist job", "fingerprint", job.Fingerprint, "error", err)
			}
		}
	}
}
