package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

// OrchestratorDeps wires the store, the run lock, and the stage runners into
// the orchestrator.
type OrchestratorDeps struct {
	Store       ports.JobStore
	Locker      ports.RunLocker
	Collect     *CollectStage
	Filter      *FilterStage
	Generate    *GenerateStage
	Deliver     *DeliverStage
	Cleanup     *CleanupStage
	Logger      *slog.Logger
	LockStale   time.Duration
	CollectOnly bool
	DryRun      bool
}

// Orchestrator sequences the stages of one pipeline run and aggregates
// per-item outcomes. Exactly one orchestrator run may execute against a
// store at a time; the run lock enforces that across processes.
type Orchestrator struct {
	store       ports.JobStore
	locker      ports.RunLocker
	collect     *CollectStage
	filter      *FilterStage
	generate    *GenerateStage
	deliver     *DeliverStage
	cleanup     *CleanupStage
	logger      *slog.Logger
	lockStale   time.Duration
	collectOnly bool
	dryRun      bool
}

// NewOrchestrator constructs the run driver.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		store:       deps.Store,
		locker:      deps.Locker,
		collect:     deps.Collect,
		filter:      deps.Filter,
		generate:    deps.Generate,
		deliver:     deps.Deliver,
		cleanup:     deps.Cleanup,
		logger:      deps.Logger,
		lockStale:   deps.LockStale,
		collectOnly: deps.CollectOnly,
		dryRun:      deps.DryRun,
	}
}

// Run executes one batch: reconcile leftovers, Collect, Filter, Generate,
// Deliver, Cleanup. Cancellation is honored between items, never mid-item.
// A locked automation session aborts only the remaining Generate work;
// already-completed items still proceed to Deliver and Cleanup.
func (o *Orchestrator) Run(ctx context.Context) (domain.RunSummary, error) {
	runID := uuid.NewString()
	summary := domain.RunSummary{RunID: runID}

	if err := o.locker.AcquireRunLock(ctx, runID, o.lockStale); err != nil {
		return summary, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := o.locker.ReleaseRunLock(context.Background(), runID); err != nil {
			o.logger.Error("release run lock", "run_id", runID, "error", err)
		}
	}()

	o.logger.Info("run started", "run_id", runID, "dry_run", o.dryRun, "collect_only", o.collectOnly)

	// A job left PROCESSING by a crash or cancellation is indistinguishable
	// from in-flight work; with the lock held it is safe to reset.
	reclaimed, err := o.store.ReclaimProcessing(ctx)
	if err != nil {
		return summary, fmt.Errorf("reclaim processing jobs: %w", err)
	}
	if reclaimed > 0 {
		o.logger.Warn("reclaimed jobs from a prior interrupted run", "count", reclaimed)
	}

	items := o.collect.Run(ctx)
	summary.Collected = len(items)

	summary.Admitted, summary.Skipped, err = o.filter.Run(ctx, items)
	if err != nil {
		return summary, fmt.Errorf("filter stage: %w", err)
	}
	o.logger.Info("filter done",
		"collected", summary.Collected, "admitted", summary.Admitted, "skipped", summary.Skipped)

	if o.collectOnly || o.dryRun {
		o.logSummary(ctx, summary)
		return summary, nil
	}

	var genFailed int
	summary.Generated, genFailed, err = o.generate.Run(ctx)
	summary.Failed += genFailed
	if err != nil {
		if isCancellation(err) {
			o.logSummary(ctx, summary)
			return summary, err
		}
		// Covers session_locked and any other acquire failure: the Generate
		// stage is lost for this run, but completed items must still ship.
		o.logger.Error("generate stage aborted; continuing with delivery", "error", err)
	}

	var delFailed int
	summary.Delivered, delFailed, err = o.deliver.Run(ctx)
	summary.Failed += delFailed
	if err != nil && !isCancellation(err) {
		o.logger.Error("deliver stage", "error", err)
	}

	o.cleanup.Run(ctx)

	o.logSummary(ctx, summary)
	if isCancellation(err) {
		return summary, err
	}
	return summary, nil
}

func (o *Orchestrator) logSummary(ctx context.Context, summary domain.RunSummary) {
	recent, err := o.store.RecentCount(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		o.logger.Warn("recent count", "error", err)
	}

	o.logger.Info("run finished",
		"run_id", summary.RunID,
		"collected", summary.Collected,
		"admitted", summary.Admitted,
		"skipped", summary.Skipped,
		"generated", summary.Generated,
		"delivered", summary.Delivered,
		"failed", summary.Failed,
		"collected_last_24h", recent)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
