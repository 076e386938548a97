package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
	"lettercast/internal/retry"
)

// waitFunc sleeps for a backoff delay, honoring cancellation. Tests inject a
// no-op so retry paths run instantly.
type waitFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CollectStage runs all configured collectors and merges their candidates.
// Collectors are independent, so they execute concurrently; a failing
// collector is logged and skipped without affecting the others.
type CollectStage struct {
	collectors []ports.Collector
	policy     retry.Policy
	logger     *slog.Logger
	wait       waitFunc
}

// NewCollectStage wires the collectors with the retry policy.
func NewCollectStage(collectors []ports.Collector, policy retry.Policy, logger *slog.Logger) *CollectStage {
	return &CollectStage{
		collectors: collectors,
		policy:     policy,
		logger:     logger,
		wait:       sleepCtx,
	}
}

// Run fetches candidates from every collector. Order across collectors is
// not significant; order within one collector's output is preserved.
func (s *CollectStage) Run(ctx context.Context) []domain.CollectedItem {
	results := make([][]domain.CollectedItem, len(s.collectors))

	var wg sync.WaitGroup
	for i, c := range s.collectors {
		wg.Add(1)
		go func(i int, c ports.Collector) {
			defer wg.Done()
			items, err := s.fetchWithRetry(ctx, c)
			if err != nil {
				s.logger.Error("collector failed", "collector", c.Name(), "error", err)
				return
			}
			s.logger.Info("collector done", "collector", c.Name(), "items", len(items))
			results[i] = items
		}(i, c)
	}
	wg.Wait()

	var merged []domain.CollectedItem
	for _, items := range results {
		merged = append(merged, items...)
	}
	return merged
}

func (s *CollectStage) fetchWithRetry(ctx context.Context, c ports.Collector) ([]domain.CollectedItem, error) {
	retries := 0
	for {
		items, err := c.FetchCandidates(ctx)
		if err == nil {
			return items, nil
		}

		kind := domain.KindOf(err)
		decision := s.policy.Decide(retry.StageCollect, kind, retries)
		if !decision.Retry {
			return nil, err
		}

		s.logger.Warn("collector retry",
			"collector", c.Name(), "kind", kind,
			"attempt", decision.NextRetryCount, "delay", decision.Delay)
		if err := s.wait(ctx, decision.Delay); err != nil {
			return nil, err
		}
		retries = decision.NextRetryCount
	}
}
