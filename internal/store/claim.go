package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orchestra/corectl/internal/domain"
)

// skipLockedClause is the non-blocking exclusive row lock claim queries use
// so concurrent schedulers claim disjoint sets of rows instead of blocking
// on each other.
var skipLockedClause = clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}

// ClaimReadyJobs is the Scheduler's atomic claim: within one
// transaction, select up to `limit` ready candidates — PENDING, due, every
// predecessor SUCCEEDED — ordered by (priority DESC, scheduled_at ASC,
// created_at ASC, id ASC), transition each PENDING -> SCHEDULED, and set
// worker_id to the sentinel meaning "handed to the broker, not yet leased".
// Returns the claimed jobs (already updated in memory to reflect the new
// status) for the caller to enqueue onto the Broker.
func (s *Store) ClaimReadyJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	var claimed []*domain.Job

	err := s.withRetry(ctx, "store", func() error {
		now := time.Now()
		claimed = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var candidates []domain.Job
			q := lockForUpdateSkipLocked(tx).
				Where(`
					status = ?
					AND scheduled_at <= ?
					AND NOT EXISTS (
						SELECT 1 FROM dependency_edges de
						JOIN jobs dep ON dep.id = de.depends_on_job_id
						WHERE de.job_id = jobs.id AND dep.status <> ?
					)
				`, domain.JobPending, now, domain.JobSuccess).
				Order("priority DESC, scheduled_at ASC, created_at ASC, id ASC").
				Limit(limit)
			if err := q.Find(&candidates).Error; err != nil {
				return err
			}
			if len(candidates) == 0 {
				return nil
			}

			ids := make([]uuid.UUID, 0, len(candidates))
			for i := range candidates {
				ids = append(ids, candidates[i].ID)
			}
			sentinel := domain.SentinelWorkerID
			res := tx.Model(&domain.Job{}).
				Where("id IN ? AND status = ?", ids, domain.JobPending).
				Updates(map[string]interface{}{
					"status":     domain.JobScheduled,
					"worker_id":  &sentinel,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}

			claimed = make([]*domain.Job, 0, len(candidates))
			for i := range candidates {
				c := candidates[i]
				c.Status = domain.JobScheduled
				c.WorkerID = &sentinel
				c.UpdatedAt = now
				claimed = append(claimed, &c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SweepOrphanScheduled reverts SCHEDULED jobs with no live owning worker back
// to PENDING with no attempt increment. "No live owning worker"
// is approximated as: still carrying the broker-handoff sentinel worker_id
// (never actually leased) and untouched since before the grace cutoff —
// exactly the crash window between the Scheduler's commit and its Broker
// enqueue that this sweep exists to close.
func (s *Store) SweepOrphanScheduled(ctx context.Context, grace time.Duration) (int, error) {
	var affected int64

	err := s.withRetry(ctx, "store", func() error {
		cutoff := time.Now().Add(-grace)
		sentinel := domain.SentinelWorkerID
		now := time.Now()
		affected = 0
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var ids []uuid.UUID
			q := lockForUpdateSkipLocked(tx).
				Model(&domain.Job{}).
				Where("status = ? AND worker_id = ? AND updated_at < ?", domain.JobScheduled, sentinel, cutoff).
				Pluck("id", &ids)
			if q.Error != nil {
				return q.Error
			}
			if len(ids) == 0 {
				return nil
			}
			res := tx.Model(&domain.Job{}).
				Where("id IN ? AND status = ?", ids, domain.JobScheduled).
				Updates(map[string]interface{}{
					"status":     domain.JobPending,
					"worker_id":  nil,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			affected = res.RowsAffected
			return nil
		})
	})
	return int(affected), err
}
