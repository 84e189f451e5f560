// Package resolver answers the dependency-readiness questions: is_ready and
// ready_candidates. The authoritative, concurrency-safe claim still happens
// inside internal/store's single locked transaction — this package is the
// read-only reference implementation of the same "every predecessor is
// SUCCESS" rule, used for diagnostics, the get-job-status surface, and as
// the ground truth property tests check the Scheduler's output against.
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra/corectl/internal/domain"
)

// Reader is the narrow slice of the Durable Store the resolver needs. It is
// satisfied by *store.Store without resolver importing store, keeping the
// dependency direction store -> resolver -> domain acyclic.
type Reader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ListDependenciesOf(ctx context.Context, jobID uuid.UUID) ([]domain.DependencyEdge, error)
	ListPendingDue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
}

// Resolver evaluates dependency readiness against a Reader.
type Resolver struct {
	store Reader
}

// New builds a Resolver over the given Store reader.
func New(store Reader) *Resolver {
	return &Resolver{store: store}
}

// IsReady reports whether every job referenced by jobID's outgoing
// dependency edges is in status SUCCESS. A job with no
// dependencies is always ready.
func (r *Resolver) IsReady(ctx context.Context, jobID uuid.UUID) (bool, error) {
	edges, err := r.store.ListDependenciesOf(ctx, jobID)
	if err != nil {
		return false, err
	}
	for _, edge := range edges {
		dep, err := r.store.GetJob(ctx, edge.DependsOnJobID)
		if err != nil {
			return false, err
		}
		if dep == nil || dep.Status != domain.JobSuccess {
			return false, nil
		}
	}
	return true, nil
}

// ReadyCandidates returns up to limit job IDs that are PENDING, due
// (scheduled_at <= now), and whose predecessors are all SUCCESS. DEAD or
// CANCELED predecessors permanently block a dependent — it is left PENDING,
// never auto-failed — failure propagation is explicit, never implicit.
func (r *Resolver) ReadyCandidates(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error) {
	due, err := r.store.ListPendingDue(ctx, now, 0)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, limit)
	for _, job := range due {
		if limit > 0 && len(out) >= limit {
			break
		}
		ready, err := r.IsReady(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if ready {
			out = append(out, job.ID)
		}
	}
	return out, nil
}
