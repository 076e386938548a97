package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
	"lettercast/internal/retry"
)

// DeliverStage drains COMPLETED jobs and sends each audio artifact to the
// messaging channel. A transient send failure leaves the job COMPLETED with
// an incremented retry count so a later run retries it; the audio file is
// never deleted until the send succeeds. Exhausted or permanent failures
// mark the job FAILED but still keep the file: local retention is the
// fallback when delivery is persistently broken.
type DeliverStage struct {
	store      ports.JobStore
	delivery   ports.Delivery
	mailReader ports.MailReader
	policy     retry.Policy
	logger     *slog.Logger
	removeFile func(string) error
}

// NewDeliverStage wires the store and the delivery collaborator. mailReader
// may be nil when no mail collector is configured.
func NewDeliverStage(store ports.JobStore, delivery ports.Delivery, mailReader ports.MailReader, policy retry.Policy, logger *slog.Logger) *DeliverStage {
	return &DeliverStage{
		store:      store,
		delivery:   delivery,
		mailReader: mailReader,
		policy:     policy,
		logger:     logger,
		removeFile: os.Remove,
	}
}

// Run attempts one send per COMPLETED job, in store order.
func (s *DeliverStage) Run(ctx context.Context) (delivered, failed int, err error) {
	jobs, err := s.store.FindByStatus(ctx, domain.StatusCompleted)
	if err != nil {
		return 0, 0, fmt.Errorf("load completed jobs: %w", err)
	}
	if len(jobs) == 0 {
		s.logger.Info("no completed jobs to deliver")
		return 0, 0, nil
	}

	for _, job := range jobs {
		if cerr := ctx.Err(); cerr != nil {
			return delivered, failed, cerr
		}

		if job.AudioPath == "" {
			// A COMPLETED job always carries an audio path; a bare one is a
			// store corruption worth surfacing, not silently delivering.
			s.logger.Error("completed job without audio path", "fingerprint", job.Fingerprint)
			failed++
			continue
		}

		ok, derr := s.deliverJob(ctx, job)
		if derr != nil {
			return delivered, failed, derr
		}
		if ok {
			delivered++
		} else {
			failed++
		}
	}

	return delivered, failed, nil
}

// deliverJob reports whether the job ended up DELIVERED. A non-nil error
// means the run was canceled mid-send: the job is left untouched, with its
// persisted retry count intact, for a later run.
func (s *DeliverStage) deliverJob(ctx context.Context, job domain.PipelineJob) (bool, error) {
	sendErr := s.delivery.Send(ctx, job.AudioPath, job.Title, job.URL)
	if sendErr == nil {
		if err := s.store.SetStatus(ctx, job.Fingerprint, domain.StatusDelivered, ""); err != nil {
			s.logger.Error("mark delivered", "fingerprint", job.Fingerprint, "error", err)
			return false, nil
		}
		if err := s.removeFile(job.AudioPath); err != nil {
			s.logger.Warn("remove delivered audio file", "path", job.AudioPath, "error", err)
		}
		s.markMailRead(ctx, job)
		s.logger.Info("delivered", "title", job.Title, "url", job.URL)
		return true, nil
	}

	// A canceled run is not a delivery failure and must not burn the job's
	// retry budget.
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	kind := domain.KindOf(sendErr)
	decision := s.policy.Decide(retry.StageDeliver, kind, job.DeliverRetries)
	if decision.Retry {
		// Retry-later: the job regresses to COMPLETED with the audio file
		// intact so a later run picks it up again.
		job.Status = domain.StatusCompleted
		job.DeliverRetries = decision.NextRetryCount
		job.LastError = sendErr.Error()
		if err := s.store.Upsert(ctx, job); err != nil {
			s.logger.Error("persist delivery retry", "fingerprint", job.Fingerprint, "error", err)
		}
		s.logger.Warn("delivery will be retried on a later run",
			"url", job.URL, "kind", kind, "retry_count", job.DeliverRetries)
		return false, nil
	}

	// Terminal: keep the audio file on disk for manual recovery.
	if err := s.store.SetStatus(ctx, job.Fingerprint, domain.StatusFailed, sendErr.Error()); err != nil {
		s.logger.Error("mark delivery failed", "fingerprint", job.Fingerprint, "error", err)
	}
	s.logger.Error("delivery failed terminally",
		"url", job.URL, "kind", kind, "error", sendErr, "audio_path", job.AudioPath)
	return false, nil
}

// markMailRead is best-effort and collaborator-owned; failures are logged.
func (s *DeliverStage) markMailRead(ctx context.Context, job domain.PipelineJob) {
	if s.mailReader == nil || job.Origin != domain.OriginMail || job.SourceRef == "" {
		return
	}
	if err := s.mailReader.MarkRead(ctx, job.SourceRef); err != nil {
		s.logger.Warn("mark mail read", "message_id", job.SourceRef, "error", err)
	}
}
