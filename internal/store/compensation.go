package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/orchestra/corectl/internal/domain"
)

// AppendCompensationAction records a compensation ledger entry for a job.
// Each call runs in its own transaction, separate from the job's status
// update, so a DEAD job's partial side effects can later be unwound by an
// operator tool; this is additive and never changes the job's own status
// transition. The Worker Runtime calls this itself for
// every job that reaches DEAD (see workerrt.recordDeathCompensation); a
// handler may append further entries of its own before returning.
func (s *Store) AppendCompensationAction(ctx context.Context, jobID uuid.UUID, kind string, detail datatypes.JSON) error {
	return s.withRetry(ctx, "store", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxSeq int
			if err := tx.Model(&domain.CompensationAction{}).
				Where("job_id = ?", jobID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&maxSeq).Error; err != nil {
				return err
			}
			return tx.Create(&domain.CompensationAction{
				ID:        uuid.New(),
				JobID:     jobID,
				Seq:       maxSeq + 1,
				Kind:      kind,
				Detail:    detail,
				CreatedAt: time.Now(),
			}).Error
		})
	})
}

// ListCompensationActions returns the ordered compensation ledger for a job.
func (s *Store) ListCompensationActions(ctx context.Context, jobID uuid.UUID) ([]domain.CompensationAction, error) {
	var actions []domain.CompensationAction
	err := s.withRetry(ctx, "store", func() error {
		actions = nil
		return s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("seq ASC").Find(&actions).Error
	})
	return actions, err
}

// MarkCompensationApplied flips the Applied flag once an operator tool has
// unwound the recorded side effect.
func (s *Store) MarkCompensationApplied(ctx context.Context, actionID uuid.UUID) error {
	return s.withRetry(ctx, "store", func() error {
		return s.db.WithContext(ctx).Model(&domain.CompensationAction{}).
			Where("id = ?", actionID).
			Update("applied", true).Error
	})
}
