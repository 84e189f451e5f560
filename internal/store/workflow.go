package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/domain/errs"
)

// CreateWorkflow persists a new workflow, rejecting a colliding name with
// DUPLICATE_NAME.
func (s *Store) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	return s.withRetry(ctx, "store", func() error {
		err := s.db.WithContext(ctx).Create(wf).Error
		if isUniqueViolation(err) {
			return permanentIfCoded(errs.NewDuplicateName(wf.Name))
		}
		return err
	})
}

// GetWorkflow fetches a workflow by id, or NOT_FOUND.
func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := s.withRetry(ctx, "store", func() error {
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&wf).Error; err != nil {
			return permanentIfCoded(wrapNotFound(err, "workflow", id.String()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// AttachJobToWorkflow sets an existing job's workflow_id. Both the workflow
// and the job must already exist, or it returns NOT_FOUND.
func (s *Store) AttachJobToWorkflow(ctx context.Context, workflowID, jobID uuid.UUID) error {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return err
	}
	// GetJob is only used for its NOT_FOUND check here; the row it
	// returns isn't needed since the update below is keyed on jobID.
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return s.withRetry(ctx, "store", func() error {
		return s.db.WithContext(ctx).Model(&domain.Job{}).
			Where("id = ?", jobID).
			Updates(map[string]interface{}{"workflow_id": workflowID, "updated_at": time.Now()}).Error
	})
}
