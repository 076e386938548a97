package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
	"lettercast/internal/retry"
)

type orchestratorFixture struct {
	store    *fakeStore
	gen      *fakeGenerator
	delivery *fakeDelivery
}

func newOrchestrator(t *testing.T, fx orchestratorFixture, collectors []ports.Collector, opts Options) *Orchestrator {
	t.Helper()

	policy := retry.Default()
	logger := testLogger()

	collect := NewCollectStage(collectors, policy, logger)
	collect.wait = noWait
	generate := NewGenerateStage(fx.store, fx.gen, policy, logger)
	generate.wait = noWait
	deliver := NewDeliverStage(fx.store, fx.delivery, nil, policy, logger)
	deliver.removeFile = func(string) error { return nil }
	cleanup := NewCleanupStage(fx.store, fx.gen, logger)
	cleanup.removeFile = func(string) error { return nil }

	return NewOrchestrator(OrchestratorDeps{
		Store:       fx.store,
		Locker:      fx.store,
		Collect:     collect,
		Filter:      NewFilterStage(fx.store, 24*time.Hour, opts.DryRun, logger),
		Generate:    generate,
		Deliver:     deliver,
		Cleanup:     cleanup,
		Logger:      logger,
		LockStale:   time.Hour,
		CollectOnly: opts.CollectOnly,
		DryRun:      opts.DryRun,
	})
}

// Options mirrors the run flags for test construction.
type Options struct {
	CollectOnly bool
	DryRun      bool
}

func singleItemCollector(url string) *fakeCollector {
	return &fakeCollector{name: "web", fetch: []func() ([]domain.CollectedItem, error){
		func() ([]domain.CollectedItem, error) {
			return []domain.CollectedItem{item(url)}, nil
		},
	}}
}

func TestOrchestratorHappyPath(t *testing.T) {
	t.Parallel()

	session := &fakeSession{results: []func() (ports.GenerateResult, error){
		func() (ports.GenerateResult, error) {
			return ports.GenerateResult{AudioPath: "/tmp/a.wav", WorkspaceID: "ws-1"}, nil
		},
	}}
	fx := orchestratorFixture{
		store:    newFakeStore(),
		gen:      &fakeGenerator{session: session},
		delivery: &fakeDelivery{sendErrs: []error{nil}},
	}
	orch := newOrchestrator(t, fx, []ports.Collector{singleItemCollector("https://example.com/a")}, Options{})

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Collected)
	assert.Equal(t, 1, summary.Admitted)
	assert.Equal(t, 1, summary.Generated)
	assert.Equal(t, 1, summary.Delivered)
	assert.Equal(t, 0, summary.Failed)

	job, _ := fx.store.job(domain.Fingerprint("https://example.com/a"))
	assert.Equal(t, domain.StatusDelivered, job.Status)
	assert.Empty(t, job.WorkspaceID, "cleanup releases the workspace")
	assert.Empty(t, fx.store.lockRunID, "run lock must be released")
}

func TestOrchestratorReclaimsInterruptedJobs(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	stuck := domain.NewJob(item("https://example.com/stuck"), time.Now())
	stuck.Status = domain.StatusProcessing
	require.NoError(t, store.Upsert(context.Background(), stuck))

	session := &fakeSession{results: []func() (ports.GenerateResult, error){
		func() (ports.GenerateResult, error) {
			return ports.GenerateResult{AudioPath: "/tmp/s.wav"}, nil
		},
	}}
	fx := orchestratorFixture{
		store:    store,
		gen:      &fakeGenerator{session: session},
		delivery: &fakeDelivery{sendErrs: []error{nil}},
	}
	orch := newOrchestrator(t, fx, nil, Options{})

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Generated, "the reclaimed job is processed by this run")
	assert.Equal(t, 1, summary.Delivered)
}

func TestOrchestratorSessionLockedStillDelivers(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	// One job already generated by a previous run, one still pending.
	seedCompleted(t, store, "https://example.com/done", "/tmp/done.wav")
	pending := domain.NewJob(item("https://example.com/new"), time.Now())
	require.NoError(t, store.Upsert(context.Background(), pending))

	fx := orchestratorFixture{
		store:    store,
		gen:      &fakeGenerator{acquireErr: domain.NewStageError(domain.KindSessionLocked, "", errors.New("busy"))},
		delivery: &fakeDelivery{sendErrs: []error{nil}},
	}
	orch := newOrchestrator(t, fx, nil, Options{})

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Generated)
	assert.Equal(t, 1, summary.Delivered, "completed work ships even when generation is blocked")

	job, _ := store.job(pending.Fingerprint)
	assert.Equal(t, domain.StatusPending, job.Status, "the pending job waits for the next run")
}

func TestOrchestratorRefusesSecondConcurrentRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	require.NoError(t, store.AcquireRunLock(context.Background(), "other-run", time.Hour))

	fx := orchestratorFixture{
		store:    store,
		gen:      &fakeGenerator{},
		delivery: &fakeDelivery{sendErrs: []error{nil}},
	}
	orch := newOrchestrator(t, fx, nil, Options{})

	_, err := orch.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrRunLockHeld)
	assert.Equal(t, "other-run", store.lockRunID, "the holder's lock must survive")
}

func TestOrchestratorCollectOnlySkipsDownstream(t *testing.T) {
	t.Parallel()

	fx := orchestratorFixture{
		store:    newFakeStore(),
		gen:      &fakeGenerator{acquireErr: errors.New("must not be called")},
		delivery: &fakeDelivery{sendErrs: []error{errors.New("must not be called")}},
	}
	orch := newOrchestrator(t, fx, []ports.Collector{singleItemCollector("https://example.com/a")}, Options{CollectOnly: true})

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Admitted)
	assert.Equal(t, 0, summary.Generated)
	assert.Equal(t, 0, summary.Delivered)
	assert.Equal(t, 0, fx.delivery.calls)

	job, _ := fx.store.job(domain.Fingerprint("https://example.com/a"))
	assert.Equal(t, domain.StatusPending, job.Status)
}

func TestOrchestratorDryRunPersistsNothing(t *testing.T) {
	t.Parallel()

	fx := orchestratorFixture{
		store:    newFakeStore(),
		gen:      &fakeGenerator{},
		delivery: &fakeDelivery{sendErrs: []error{nil}},
	}
	orch := newOrchestrator(t, fx, []ports.Collector{singleItemCollector("https://example.com/a")}, Options{DryRun: true})

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Admitted)

	_, ok := fx.store.job(domain.Fingerprint("https://example.com/a"))
	assert.False(t, ok)
}
