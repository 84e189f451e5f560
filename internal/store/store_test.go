package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/domain/errs"
	"github.com/orchestra/corectl/internal/platform/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	return New(tx, testutil.Logger(t))
}

func newJob(jobType, idemKey string) *domain.Job {
	return &domain.Job{
		Type:           jobType,
		IdempotencyKey: idemKey,
		Priority:       5,
		MaxAttempts:    3,
		RetryPolicy:    domain.RetryExponential,
		BaseDelay:      time.Second,
		Timeout:        time.Minute,
	}
}

func TestInsertJob_DuplicateIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j1 := newJob("echo", "dup-key")
	if err := s.InsertJob(ctx, j1); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	j2 := newJob("echo", "dup-key")
	err := s.InsertJob(ctx, j2)
	if err == nil {
		t.Fatal("expected DUPLICATE_IDEMPOTENCY, got nil")
	}
	if code, ok := errs.As(err); !ok || code != errs.DuplicateIdempotency {
		t.Fatalf("expected DUPLICATE_IDEMPOTENCY, got %v", err)
	}
}

func TestUpdateJobStatus_CASConflictAndIllegalEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("echo", "cas-key")
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, domain.JobPending, domain.JobScheduled, nil); err != nil {
		t.Fatalf("legal transition failed: %v", err)
	}

	// Second attempt from the stale "pending" expectation must CONFLICT.
	err := s.UpdateJobStatus(ctx, j.ID, domain.JobPending, domain.JobScheduled, nil)
	if code, ok := errs.As(err); !ok || code != errs.Conflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}

	// Illegal edge is rejected before touching the row.
	err = s.UpdateJobStatus(ctx, j.ID, domain.JobScheduled, domain.JobSuccess, nil)
	if code, ok := errs.As(err); !ok || code != errs.InvalidTransition {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
}

func TestCancelJob_TerminalRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("echo", "cancel-key")
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("cancel from pending: %v", err)
	}

	err := s.CancelJob(ctx, j.ID)
	if code, ok := errs.As(err); !ok || code != errs.InvalidTransition {
		t.Fatalf("expected INVALID_TRANSITION on re-cancel, got %v", err)
	}
}

func TestClaimReadyJobs_RespectsOrderAndDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blocker := newJob("echo", "blocker")
	if err := s.InsertJob(ctx, blocker); err != nil {
		t.Fatalf("insert blocker: %v", err)
	}
	blocked := newJob("echo", "blocked")
	blocked.Priority = 10
	if err := s.InsertJob(ctx, blocked); err != nil {
		t.Fatalf("insert blocked: %v", err)
	}
	if err := s.InsertDependency(ctx, blocked.ID, blocker.ID); err != nil {
		t.Fatalf("insert dependency: %v", err)
	}

	low := newJob("echo", "low-priority")
	low.Priority = 1
	if err := s.InsertJob(ctx, low); err != nil {
		t.Fatalf("insert low: %v", err)
	}

	claimed, err := s.ClaimReadyJobs(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	var claimedIDs []uuid.UUID
	for _, c := range claimed {
		claimedIDs = append(claimedIDs, c.ID)
		if c.Status != domain.JobScheduled {
			t.Errorf("expected claimed job to be SCHEDULED, got %s", c.Status)
		}
	}
	if contains(claimedIDs, blocked.ID) {
		t.Error("blocked job (dependency not SUCCESS) should not have been claimed")
	}
	if !contains(claimedIDs, blocker.ID) {
		t.Error("blocker job should have been claimed")
	}
	if !contains(claimedIDs, low.ID) {
		t.Error("low priority job should still have been claimed (no dependency)")
	}
	// blocker (priority 5) must be ordered before low (priority 1).
	if idx(claimedIDs, blocker.ID) > idx(claimedIDs, low.ID) {
		t.Error("higher priority job claimed after lower priority job")
	}
}

func TestInsertDependency_RejectsCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newJob("echo", "a")
	b := newJob("echo", "b")
	if err := s.InsertJob(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertJob(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("b depends on a: %v", err)
	}
	if err := s.InsertDependency(ctx, a.ID, b.ID); err == nil {
		t.Fatal("expected cycle rejection, got nil")
	}
}

func contains(ids []uuid.UUID, target uuid.UUID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func idx(ids []uuid.UUID, target uuid.UUID) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}
