package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/domain/errs"
	"github.com/orchestra/corectl/internal/statemachine"
)

// InsertJob persists a new job. Colliding idempotency keys fail with
// DUPLICATE_IDEMPOTENCY rather than a raw constraint error.
func (s *Store) InsertJob(ctx context.Context, job *domain.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = domain.JobPending
	}
	now := time.Now()
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	return s.withRetry(ctx, "store", func() error {
		err := s.db.WithContext(ctx).Create(job).Error
		if isUniqueViolation(err) {
			return permanentIfCoded(errs.NewDuplicateIdempotency(job.IdempotencyKey))
		}
		return err
	})
}

// GetJob fetches a job by id, or NOT_FOUND.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.withRetry(ctx, "store", func() error {
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
			return permanentIfCoded(wrapNotFound(err, "job", id.String()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJobStatus performs the compare-and-set at the core of this store: the
// row only moves from `expected` to `next` if both (a) the transition is
// legal per internal/statemachine and (b) the row's current status still
// equals `expected` at commit time. extra carries any additional column
// updates (error fields, result, started_at, completed_at, worker_id, ...).
// worker_id is cleared on any move to a status other than SCHEDULED or
// RUNNING unless extra sets it.
//
// Returns INVALID_TRANSITION before touching the database if the edge is
// illegal, and CONFLICT if another transaction already moved the row.
func (s *Store) UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, next domain.JobStatus, extra map[string]interface{}) error {
	if !statemachine.Legal(expected, next) {
		return errs.NewInvalidTransition(string(expected), string(next), "job:"+id.String())
	}

	updates := map[string]interface{}{}
	for k, v := range extra {
		updates[k] = v
	}
	updates["status"] = next
	updates["updated_at"] = time.Now()
	if next == domain.JobRunning {
		if _, ok := updates["started_at"]; !ok {
			updates["started_at"] = time.Now()
		}
	}
	if statemachine.Terminal(next) {
		if _, ok := updates["completed_at"]; !ok {
			updates["completed_at"] = time.Now()
		}
	}
	if next != domain.JobScheduled && next != domain.JobRunning {
		if _, ok := updates["worker_id"]; !ok {
			updates["worker_id"] = nil
		}
	}

	return s.withRetry(ctx, "store", func() error {
		res := s.db.WithContext(ctx).Model(&domain.Job{}).
			Where("id = ? AND status = ?", id, expected).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return permanentIfCoded(errs.NewConflict("job:"+id.String(), string(expected)))
		}
		return nil
	})
}

// CancelJob transitions a non-terminal job to CANCELED immediately;
// canceling a terminal job fails with INVALID_TRANSITION. It re-reads the
// current status to pick the right CAS edge rather than guessing, since
// CANCELED is reachable from PENDING, SCHEDULED, and RUNNING.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if statemachine.Terminal(job.Status) {
		return errs.NewInvalidTransition(string(job.Status), string(domain.JobCanceled), "job:"+id.String())
	}
	return s.UpdateJobStatus(ctx, id, job.Status, domain.JobCanceled, nil)
}

// ListPendingDue returns PENDING jobs with scheduled_at <= now, ordered by
// the scheduling tuple (priority DESC, scheduled_at ASC,
// created_at ASC, id ASC). limit <= 0 means unbounded — used by
// internal/resolver, which applies its own dependency filter afterward.
func (s *Store) ListPendingDue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := s.withRetry(ctx, "store", func() error {
		q := s.db.WithContext(ctx).
			Where("status = ? AND scheduled_at <= ?", domain.JobPending, now).
			Order("priority DESC, scheduled_at ASC, created_at ASC, id ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		jobs = nil
		return q.Find(&jobs).Error
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListJobsForWorkflow returns every job attached to a workflow, used by the
// Workflow Aggregator.
func (s *Store) ListJobsForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := s.withRetry(ctx, "store", func() error {
		jobs = nil
		return s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Find(&jobs).Error
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// lockForUpdateSkipLocked is the shared skip-locked clause used by both the
// Scheduler's claim and the Heartbeat Monitor's reclaim sweeps, so two
// instances of either never block on the same row — they simply skip it.
func lockForUpdateSkipLocked(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(skipLockedClause)
}
