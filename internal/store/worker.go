package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/retry"
)

// UpsertWorker registers (or re-registers, on restart with the same id) a
// worker process. Exactly one row per live process.
func (s *Store) UpsertWorker(ctx context.Context, w *domain.Worker) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now()
	if w.RegisteredAt.IsZero() {
		w.RegisteredAt = now
	}
	if w.LastHeartbeat.IsZero() {
		w.LastHeartbeat = now
	}
	if w.Status == "" {
		w.Status = domain.WorkerActive
	}
	return s.withRetry(ctx, "store", func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"hostname", "process_identity", "version", "max_concurrent_jobs", "status", "last_heartbeat", "telemetry"}),
		}).Create(w).Error
	})
}

// TouchWorkerHeartbeat updates last_heartbeat and, if provided, telemetry.
// Called by the Worker Runtime's heartbeat emitter every T seconds.
func (s *Store) TouchWorkerHeartbeat(ctx context.Context, workerID uuid.UUID, telemetry datatypes.JSONMap) error {
	updates := map[string]interface{}{
		"last_heartbeat": time.Now(),
		"status":         domain.WorkerActive,
	}
	if telemetry != nil {
		updates["telemetry"] = telemetry
	}
	return s.withRetry(ctx, "store", func() error {
		return s.db.WithContext(ctx).Model(&domain.Worker{}).
			Where("id = ?", workerID).
			Updates(updates).Error
	})
}

// MarkWorkerStopped transitions a worker to STOPPED on graceful shutdown.
func (s *Store) MarkWorkerStopped(ctx context.Context, workerID uuid.UUID) error {
	return s.withRetry(ctx, "store", func() error {
		return s.db.WithContext(ctx).Model(&domain.Worker{}).
			Where("id = ?", workerID).
			Updates(map[string]interface{}{"status": domain.WorkerStopped, "last_heartbeat": time.Now()}).Error
	})
}

// ListStaleWorkers returns (and marks STALE) ACTIVE or already-STALE workers
// whose last_heartbeat is older than staleThreshold H, so a stale worker is
// listed again on every sweep until it heartbeats or is stopped.
func (s *Store) ListStaleWorkers(ctx context.Context, staleThreshold time.Duration) ([]*domain.Worker, error) {
	var stale []*domain.Worker
	err := s.withRetry(ctx, "store", func() error {
		cutoff := time.Now().Add(-staleThreshold)
		stale = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("last_heartbeat < ? AND status IN ?", cutoff, []domain.WorkerStatus{domain.WorkerActive, domain.WorkerStale}).
				Find(&stale).Error; err != nil {
				return err
			}
			if len(stale) == 0 {
				return nil
			}
			ids := make([]uuid.UUID, 0, len(stale))
			for _, w := range stale {
				ids = append(ids, w.ID)
			}
			return tx.Model(&domain.Worker{}).Where("id IN ?", ids).Update("status", domain.WorkerStale).Error
		})
	})
	return stale, err
}

// ListActiveWorkers backs the list-active-workers surface.
func (s *Store) ListActiveWorkers(ctx context.Context) ([]*domain.Worker, error) {
	var workers []*domain.Worker
	err := s.withRetry(ctx, "store", func() error {
		workers = nil
		return s.db.WithContext(ctx).Where("status = ?", domain.WorkerActive).Find(&workers).Error
	})
	return workers, err
}

// CleanupStoppedWorkers deletes worker rows that have been STOPPED longer
// than window.
func (s *Store) CleanupStoppedWorkers(ctx context.Context, window time.Duration) (int, error) {
	var affected int64
	err := s.withRetry(ctx, "store", func() error {
		cutoff := time.Now().Add(-window)
		res := s.db.WithContext(ctx).
			Where("status = ? AND last_heartbeat < ?", domain.WorkerStopped, cutoff).
			Delete(&domain.Worker{})
		affected = res.RowsAffected
		return res.Error
	})
	return int(affected), err
}

// ReassignJobsOfWorker locates, within one transaction,
// locate every job held by workerID in {SCHEDULED, RUNNING} and reassign it.
// A job that still has attempts left goes back to PENDING with attempt+1 and
// a fresh scheduled_at computed from the retry policy; a job that has
// exhausted its attempts goes straight to DEAD (and the caller pushes it to
// the DLQ). Uses the same skip-locked read as the Scheduler so two
// Heartbeat Monitor instances reconciling the same stale worker never double
// count or deadlock.
func (s *Store) ReassignJobsOfWorker(ctx context.Context, workerID uuid.UUID) (reclaimed []*domain.Job, died []*domain.Job, err error) {
	workerIDStr := workerID.String()
	txErr := s.withRetry(ctx, "store", func() error {
		now := time.Now()
		reclaimed = nil
		died = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var held []domain.Job
			if err := lockForUpdateSkipLocked(tx).
				Where("worker_id = ? AND status IN ?", workerIDStr, []domain.JobStatus{domain.JobScheduled, domain.JobRunning}).
				Find(&held).Error; err != nil {
				return err
			}
			for i := range held {
				job := held[i]
				if retry.ShouldDie(job.Attempts, job.MaxAttempts) {
					res := tx.Model(&domain.Job{}).
						Where("id = ? AND status = ?", job.ID, job.Status).
						Updates(map[string]interface{}{
							"status":        domain.JobDead,
							"worker_id":     nil,
							"attempts":      job.Attempts + 1,
							"completed_at":  now,
							"error_message": strPtr("worker lease expired"),
							"updated_at":    now,
						})
					if res.Error != nil {
						return res.Error
					}
					if res.RowsAffected > 0 {
						job.Status = domain.JobDead
						job.Attempts++
						died = append(died, &job)
					}
					continue
				}

				delay := retry.NextDelay(job.Attempts, job.RetryPolicy, job.BaseDelay)
				res := tx.Model(&domain.Job{}).
					Where("id = ? AND status = ?", job.ID, job.Status).
					Updates(map[string]interface{}{
						"status":       domain.JobPending,
						"worker_id":    nil,
						"started_at":   nil,
						"attempts":     job.Attempts + 1,
						"scheduled_at": now.Add(delay),
						"updated_at":   now,
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected > 0 {
					job.Status = domain.JobPending
					job.Attempts++
					reclaimed = append(reclaimed, &job)
				}
			}
			return nil
		})
	})
	if txErr != nil {
		return nil, nil, txErr
	}
	return reclaimed, died, nil
}

func strPtr(s string) *string { return &s }
