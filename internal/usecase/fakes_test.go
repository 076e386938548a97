package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noWait(context.Context, time.Duration) error { return nil }

// fakeStore is an in-memory JobStore and RunLocker with the same conflict
// and ordering semantics as the SQLite implementation.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]domain.PipelineJob

	lockRunID string
	lockTime  time.Time

	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]domain.PipelineJob)}
}

var (
	_ ports.JobStore  = (*fakeStore)(nil)
	_ ports.RunLocker = (*fakeStore)(nil)
)

func (f *fakeStore) Exists(_ context.Context, fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[fingerprint]
	return ok, nil
}

func (f *fakeStore) Upsert(_ context.Context, job domain.PipelineJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.upsertErr != nil {
		return f.upsertErr
	}

	existing, ok := f.jobs[job.Fingerprint]
	if ok {
		cur := existing.Status
		switch {
		case cur == domain.StatusCompleted && job.Status == domain.StatusPending:
			return fmt.Errorf("upsert %s: %w", job.Fingerprint, domain.ErrConflict)
		case cur == domain.StatusDelivered && job.Status != domain.StatusDelivered:
			return fmt.Errorf("upsert %s: %w", job.Fingerprint, domain.ErrConflict)
		}
		job.CreatedAt = existing.CreatedAt
		job.Origin = existing.Origin
		job.URL = existing.URL
		job.CollectedAt = existing.CollectedAt
	}
	f.jobs[job.Fingerprint] = job
	return nil
}

func (f *fakeStore) FindByStatus(_ context.Context, status domain.Status) ([]domain.PipelineJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.PipelineJob
	for _, j := range f.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].Fingerprint < out[k].Fingerprint
	})
	return out, nil
}

func (f *fakeStore) SetStatus(_ context.Context, fingerprint string, status domain.Status, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[fingerprint]
	if !ok {
		return fmt.Errorf("set status %s: %w", fingerprint, domain.ErrNotFound)
	}
	job.Status = status
	job.LastError = lastError
	f.jobs[fingerprint] = job
	return nil
}

func (f *fakeStore) ReclaimProcessing(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for fp, j := range f.jobs {
		if j.Status == domain.StatusProcessing {
			j.Status = domain.StatusPending
			f.jobs[fp] = j
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) RecentCount(_ context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, j := range f.jobs {
		if !j.CollectedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) AcquireRunLock(_ context.Context, runID string, staleAfter time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lockRunID != "" && time.Since(f.lockTime) < staleAfter {
		return domain.ErrRunLockHeld
	}
	f.lockRunID = runID
	f.lockTime = time.Now()
	return nil
}

func (f *fakeStore) ReleaseRunLock(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lockRunID == runID {
		f.lockRunID = ""
	}
	return nil
}

func (f *fakeStore) job(fingerprint string) (domain.PipelineJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[fingerprint]
	return j, ok
}

// fakeCollector yields a scripted sequence of results, one per call.
type fakeCollector struct {
	name  string
	calls int
	fetch []func() ([]domain.CollectedItem, error)
}

var _ ports.Collector = (*fakeCollector)(nil)

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) FetchCandidates(context.Context) ([]domain.CollectedItem, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.fetch) {
		idx = len(f.fetch) - 1
	}
	return f.fetch[idx]()
}

// fakeGenerator hands out a single scripted session and records workspace
// cleanups.
type fakeGenerator struct {
	mu         sync.Mutex
	session    *fakeSession
	acquireErr error
	cleanedUp  []string
}

var _ ports.AudioGenerator = (*fakeGenerator)(nil)

func (f *fakeGenerator) AcquireSession(context.Context) (ports.AudioSession, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return f.session, nil
}

func (f *fakeGenerator) CleanupWorkspace(_ context.Context, workspaceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanedUp = append(f.cleanedUp, workspaceID)
	return nil
}

// fakeSession replays scripted generate outcomes in order.
type fakeSession struct {
	results  []func() (ports.GenerateResult, error)
	calls    int
	restarts int
	closed   bool
}

var _ ports.AudioSession = (*fakeSession)(nil)

func (f *fakeSession) Generate(context.Context, string, string) (ports.GenerateResult, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]()
}

func (f *fakeSession) Restart(context.Context) error {
	f.restarts++
	return nil
}

func (f *fakeSession) Close(context.Context) error {
	f.closed = true
	return nil
}

// fakeDelivery replays scripted send outcomes in order.
type fakeDelivery struct {
	sendErrs []error
	calls    int
	sent     []string
}

var _ ports.Delivery = (*fakeDelivery)(nil)

func (f *fakeDelivery) Send(_ context.Context, filePath, _, _ string) error {
	idx := f.calls
	f.calls++
	if idx >= len(f.sendErrs) {
		idx = len(f.sendErrs) - 1
	}
	if err := f.sendErrs[idx]; err != nil {
		return err
	}
	f.sent = append(f.sent, filePath)
	return nil
}

type fakeMailReader struct {
	marked []string
	err    error
}

var _ ports.MailReader = (*fakeMailReader)(nil)

func (f *fakeMailReader) MarkRead(_ context.Context, messageID string) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, messageID)
	return nil
}
