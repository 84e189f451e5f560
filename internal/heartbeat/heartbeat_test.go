package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/platform/testutil"
)

type fakeStore struct {
	stale           []*domain.Worker
	reassignErr     error
	reclaimedByID   map[uuid.UUID][]*domain.Job
	diedByID        map[uuid.UUID][]*domain.Job
	orphanCount     int
	orphanErr       error
	cleanupCount    int
	cleanupErr      error
	staleErr        error
	sawOrphanGrace  time.Duration
	sawCleanupWindow time.Duration
}

func (f *fakeStore) ListStaleWorkers(ctx context.Context, staleThreshold time.Duration) ([]*domain.Worker, error) {
	if f.staleErr != nil {
		return nil, f.staleErr
	}
	return f.stale, nil
}

func (f *fakeStore) ReassignJobsOfWorker(ctx context.Context, workerID uuid.UUID) ([]*domain.Job, []*domain.Job, error) {
	if f.reassignErr != nil {
		return nil, nil, f.reassignErr
	}
	return f.reclaimedByID[workerID], f.diedByID[workerID], nil
}

func (f *fakeStore) SweepOrphanScheduled(ctx context.Context, grace time.Duration) (int, error) {
	f.sawOrphanGrace = grace
	if f.orphanErr != nil {
		return 0, f.orphanErr
	}
	return f.orphanCount, nil
}

func (f *fakeStore) CleanupStoppedWorkers(ctx context.Context, window time.Duration) (int, error) {
	f.sawCleanupWindow = window
	if f.cleanupErr != nil {
		return 0, f.cleanupErr
	}
	return f.cleanupCount, nil
}

type fakeBroker struct {
	dlq []string
	err error
}

func (f *fakeBroker) SendToDLQ(ctx context.Context, jobID, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.dlq = append(f.dlq, jobID)
	return nil
}

func TestRunOnce_ReassignsStaleWorkerJobsAndSendsDeadToDLQ(t *testing.T) {
	w := &domain.Worker{ID: uuid.New()}
	diedJob := &domain.Job{ID: uuid.New()}
	reclaimedJob := &domain.Job{ID: uuid.New()}

	store := &fakeStore{
		stale:         []*domain.Worker{w},
		reclaimedByID: map[uuid.UUID][]*domain.Job{w.ID: {reclaimedJob}},
		diedByID:      map[uuid.UUID][]*domain.Job{w.ID: {diedJob}},
	}
	broker := &fakeBroker{}

	m := New(store, broker, testutil.Logger(t), Config{})
	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(broker.dlq) != 1 || broker.dlq[0] != diedJob.ID.String() {
		t.Fatalf("expected died job pushed to DLQ, got %v", broker.dlq)
	}
}

func TestRunOnce_DLQFailureDoesNotAbortSweep(t *testing.T) {
	w := &domain.Worker{ID: uuid.New()}
	diedJob := &domain.Job{ID: uuid.New()}
	store := &fakeStore{
		stale:    []*domain.Worker{w},
		diedByID: map[uuid.UUID][]*domain.Job{w.ID: {diedJob}},
	}
	broker := &fakeBroker{err: errors.New("redis down")}

	m := New(store, broker, testutil.Logger(t), Config{})
	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("a DLQ push failure must not abort the sweep: %v", err)
	}
	if store.sawOrphanGrace == 0 {
		t.Error("expected the orphan sweep to still run after a DLQ failure")
	}
}

func TestRunOnce_DefaultsOrphanGraceToTwiceTick(t *testing.T) {
	store := &fakeStore{}
	broker := &fakeBroker{}
	m := New(store, broker, testutil.Logger(t), Config{Tick: 10 * time.Second})
	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if store.sawOrphanGrace != 20*time.Second {
		t.Fatalf("expected default orphan grace of 2x tick (20s), got %s", store.sawOrphanGrace)
	}
}

func TestRunOnce_ReassignFailureForOneWorkerDoesNotAbortOthers(t *testing.T) {
	broken := &domain.Worker{ID: uuid.New()}
	healthy := &domain.Worker{ID: uuid.New()}
	diedJob := &domain.Job{ID: uuid.New()}

	store := &fakeStore{
		stale:       []*domain.Worker{broken, healthy},
		reassignErr: nil,
		diedByID:    map[uuid.UUID][]*domain.Job{healthy.ID: {diedJob}},
	}
	// Simulate a per-worker failure by wrapping ReassignJobsOfWorker behavior
	// through a custom store rather than the shared fakeStore's blanket error.
	cs := &conditionalFailStore{fakeStore: store, failFor: broken.ID}
	broker := &fakeBroker{}

	m := New(cs, broker, testutil.Logger(t), Config{})
	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(broker.dlq) != 1 || broker.dlq[0] != diedJob.ID.String() {
		t.Fatalf("expected healthy worker's died job still reached the DLQ, got %v", broker.dlq)
	}
}

type conditionalFailStore struct {
	*fakeStore
	failFor uuid.UUID
}

func (c *conditionalFailStore) ReassignJobsOfWorker(ctx context.Context, workerID uuid.UUID) ([]*domain.Job, []*domain.Job, error) {
	if workerID == c.failFor {
		return nil, nil, errors.New("lock contention")
	}
	return c.fakeStore.ReassignJobsOfWorker(ctx, workerID)
}

func TestRunOnce_OrphanSweepFailurePropagates(t *testing.T) {
	store := &fakeStore{orphanErr: errors.New("db down")}
	broker := &fakeBroker{}
	m := New(store, broker, testutil.Logger(t), Config{})
	if err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("expected orphan sweep error to propagate")
	}
}

func TestRunOnce_CleanupFailurePropagates(t *testing.T) {
	store := &fakeStore{cleanupErr: errors.New("db down")}
	broker := &fakeBroker{}
	m := New(store, broker, testutil.Logger(t), Config{})
	if err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("expected cleanup error to propagate")
	}
}
