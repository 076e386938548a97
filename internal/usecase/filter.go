package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

// FilterStage admits new, non-stale candidates into the store as PENDING
// jobs. It is idempotent: a second pass over the same candidates produces no
// duplicate jobs and no status regressions.
type FilterStage struct {
	store  ports.JobStore
	maxAge time.Duration
	dryRun bool
	logger *slog.Logger
	now    func() time.Time
}

// NewFilterStage wires the dedup store and the staleness window.
func NewFilterStage(store ports.JobStore, maxAge time.Duration, dryRun bool, logger *slog.Logger) *FilterStage {
	return &FilterStage{
		store:  store,
		maxAge: maxAge,
		dryRun: dryRun,
		logger: logger,
		now:    time.Now,
	}
}

// Run filters the merged candidate list sequentially, serializing store
// writes per fingerprint. It returns the number of admitted and skipped
// candidates. A conflict on one candidate never stops the rest.
func (s *FilterStage) Run(ctx context.Context, items []domain.CollectedItem) (admitted, skipped int, err error) {
	now := s.now()
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return admitted, skipped, err
		}

		fp := domain.Fingerprint(item.URL)

		// The same URL can arrive from several collectors within one run.
		if _, dup := seen[fp]; dup {
			skipped++
			continue
		}
		seen[fp] = struct{}{}

		exists, err := s.store.Exists(ctx, fp)
		if err != nil {
			return admitted, skipped, fmt.Errorf("check fingerprint %s: %w", fp, err)
		}
		if exists {
			s.logger.Debug("duplicate skipped", "url", item.URL)
			skipped++
			continue
		}

		if s.maxAge > 0 && now.Sub(item.CollectedAt) > s.maxAge {
			s.logger.Debug("stale item skipped", "url", item.URL, "collected_at", item.CollectedAt)
			skipped++
			continue
		}

		if s.dryRun {
			s.logger.Info("dry-run: would admit", "url", item.URL, "origin", item.Origin)
			admitted++
			continue
		}

		job := domain.NewJob(item, now)
		if err := s.store.Upsert(ctx, job); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				s.logger.Warn("conflicting fingerprint skipped", "url", item.URL, "error", err)
				skipped++
				continue
			}
			return admitted, skipped, fmt.Errorf("admit %s: %w", item.URL, err)
		}
		admitted++
	}

	return admitted, skipped, nil
}
