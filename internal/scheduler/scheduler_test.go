package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/platform/testutil"
)

type fakeStore struct {
	jobs []*domain.Job
	err  error
}

func (f *fakeStore) ClaimReadyJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.jobs) {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

type fakeBroker struct {
	enqueued map[string]int
	failFor  string
}

func newFakeBroker() *fakeBroker { return &fakeBroker{enqueued: map[string]int{}} }

func (f *fakeBroker) Enqueue(ctx context.Context, jobID string, priority int) error {
	if jobID == f.failFor {
		return errors.New("simulated broker outage")
	}
	f.enqueued[jobID] = priority
	return nil
}

func TestRunOnce_EnqueuesEveryClaimedJob(t *testing.T) {
	a := &domain.Job{ID: uuid.New(), Priority: 9}
	b := &domain.Job{ID: uuid.New(), Priority: 1}
	store := &fakeStore{jobs: []*domain.Job{a, b}}
	broker := newFakeBroker()

	s := New(store, broker, testutil.Logger(t), Config{})
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(broker.enqueued) != 2 {
		t.Fatalf("expected 2 enqueued jobs, got %d", len(broker.enqueued))
	}
	if broker.enqueued[a.ID.String()] != 9 {
		t.Errorf("expected job a enqueued at priority 9")
	}
}

func TestRunOnce_BrokerFailureDoesNotAbortBatch(t *testing.T) {
	a := &domain.Job{ID: uuid.New(), Priority: 9}
	b := &domain.Job{ID: uuid.New(), Priority: 1}
	store := &fakeStore{jobs: []*domain.Job{a, b}}
	broker := newFakeBroker()
	broker.failFor = a.ID.String()

	s := New(store, broker, testutil.Logger(t), Config{})
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce should not surface a per-job enqueue failure: %v", err)
	}
	if _, ok := broker.enqueued[b.ID.String()]; !ok {
		t.Error("job b should still have been enqueued despite job a's broker failure")
	}
	if _, ok := broker.enqueued[a.ID.String()]; ok {
		t.Error("job a should not be marked enqueued")
	}
}

func TestRunOnce_ClaimFailurePropagates(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	broker := newFakeBroker()
	s := New(store, broker, testutil.Logger(t), Config{})
	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected claim error to propagate")
	}
}
