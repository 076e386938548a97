package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
	"lettercast/internal/retry"
)

// GenerateStage drives PENDING jobs through the audio-generation collaborator.
// Jobs are processed strictly sequentially: the automation collaborator holds
// a single exclusive browser session, and concurrent use would corrupt it.
type GenerateStage struct {
	store     ports.JobStore
	generator ports.AudioGenerator
	policy    retry.Policy
	logger    *slog.Logger
	wait      waitFunc
}

// NewGenerateStage wires the store and the automation collaborator.
func NewGenerateStage(store ports.JobStore, generator ports.AudioGenerator, policy retry.Policy, logger *slog.Logger) *GenerateStage {
	return &GenerateStage{
		store:     store,
		generator: generator,
		policy:    policy,
		logger:    logger,
		wait:      sleepCtx,
	}
}

// Run drains PENDING jobs. The session handle is acquired once for the stage
// and released on exit, including exceptional exit. A session_locked failure
// aborts the remainder of the stage (the resource belongs to someone else);
// per-item failures only mark that item FAILED.
func (s *GenerateStage) Run(ctx context.Context) (generated, failed int, err error) {
	jobs, err := s.store.FindByStatus(ctx, domain.StatusPending)
	if err != nil {
		return 0, 0, fmt.Errorf("load pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		s.logger.Info("no pending jobs to generate")
		return 0, 0, nil
	}

	session, err := s.generator.AcquireSession(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("acquire automation session: %w", err)
	}
	defer func() {
		if cerr := session.Close(context.Background()); cerr != nil {
			s.logger.Warn("close automation session", "error", cerr)
		}
	}()

	for i, job := range jobs {
		if cerr := ctx.Err(); cerr != nil {
			return generated, failed, cerr
		}

		s.logger.Info("generating audio",
			"progress", fmt.Sprintf("%d/%d", i+1, len(jobs)),
			"url", job.URL, "title", job.Title)

		jobErr := s.processJob(ctx, session, job)
		switch {
		case jobErr == nil:
			generated++
		case isCancellation(jobErr):
			// The in-flight job stays PROCESSING; the next run's
			// reconciliation returns it to PENDING.
			return generated, failed, jobErr
		case domain.KindOf(jobErr) == domain.KindSessionLocked:
			// The session was taken from under us; leave the item for the
			// next run and stop generating.
			if rerr := s.store.SetStatus(ctx, job.Fingerprint, domain.StatusPending, ""); rerr != nil {
				s.logger.Warn("reset job after session loss", "fingerprint", job.Fingerprint, "error", rerr)
			}
			return generated, failed, jobErr
		default:
			failed++
		}
	}

	return generated, failed, nil
}

// processJob advances one job PROCESSING → COMPLETED/FAILED, applying the
// retry policy per classified error kind. Exactly one audio file exists per
// COMPLETED job; a FAILED job leaves no orphaned workspace behind.
func (s *GenerateStage) processJob(ctx context.Context, session ports.AudioSession, job domain.PipelineJob) error {
	if err := s.store.SetStatus(ctx, job.Fingerprint, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	var (
		attempts  int
		lastErr   error
		partialWS string
	)

	for {
		result, err := session.Generate(ctx, job.URL, job.Title)
		if err == nil {
			job.Status = domain.StatusCompleted
			job.AudioPath = result.AudioPath
			job.WorkspaceID = result.WorkspaceID
			job.GenerateRetries = attempts
			job.LastError = ""
			if uerr := s.store.Upsert(ctx, job); uerr != nil {
				return fmt.Errorf("persist completed job: %w", uerr)
			}
			return nil
		}

		attempts++
		lastErr = err
		if ws := domain.WorkspaceOf(err); ws != "" {
			partialWS = ws
		}

		// Run cancellation is not a job failure: the job is left PROCESSING
		// and the next run's reconciliation returns it to PENDING.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind := domain.KindOf(err)
		if kind == domain.KindSessionLocked {
			return err
		}

		decision := s.policy.Decide(retry.StageGenerate, kind, attempts)
		if !decision.Retry {
			break
		}

		s.logger.Warn("generation retry",
			"url", job.URL, "kind", kind,
			"attempt", attempts, "delay", decision.Delay)

		if perr := s.prepareRetry(ctx, session, kind, &partialWS); perr != nil {
			lastErr = perr
			break
		}

		if werr := s.wait(ctx, decision.Delay); werr != nil {
			return werr
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	job.Status = domain.StatusFailed
	job.GenerateRetries = attempts
	job.LastError = lastErr.Error()
	if uerr := s.store.Upsert(ctx, job); uerr != nil {
		s.logger.Error("persist failed job", "fingerprint", job.Fingerprint, "error", uerr)
	}
	s.cleanupWorkspace(ctx, partialWS)
	return lastErr
}

// prepareRetry runs the kind-specific recovery step before the next attempt:
// a session restart for automation timeouts, full workspace recreation for
// generation timeouts.
func (s *GenerateStage) prepareRetry(ctx context.Context, session ports.AudioSession, kind domain.ErrorKind, partialWS *string) error {
	switch kind {
	case domain.KindAutomationTimeout:
		if err := session.Restart(ctx); err != nil {
			return fmt.Errorf("restart session: %w", err)
		}
	case domain.KindGenerationTimeout:
		s.cleanupWorkspace(ctx, *partialWS)
		*partialWS = ""
	}
	return nil
}

// cleanupWorkspace is best-effort: its own failure is logged, never escalated.
func (s *GenerateStage) cleanupWorkspace(ctx context.Context, workspaceID string) {
	if workspaceID == "" {
		return
	}
	if err := s.generator.CleanupWorkspace(ctx, workspaceID); err != nil {
		s.logger.Warn("workspace cleanup failed", "workspace", workspaceID, "error", err)
	}
}
