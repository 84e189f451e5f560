package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/domain/errs"
)

// ListDependenciesOf returns the outgoing dependency edges of a job — the
// jobs it depends on.
func (s *Store) ListDependenciesOf(ctx context.Context, jobID uuid.UUID) ([]domain.DependencyEdge, error) {
	var edges []domain.DependencyEdge
	err := s.withRetry(ctx, "store", func() error {
		edges = nil
		return s.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&edges).Error
	})
	return edges, err
}

// InsertDependency adds a (job_id, depends_on_job_id) edge, rejecting it with
// VALIDATION if it would introduce a cycle ("the dependency
// graph of any workflow is acyclic"). The whole check-then-insert runs
// inside one transaction so two concurrent inserts can't both pass the
// cycle check and jointly create one.
func (s *Store) InsertDependency(ctx context.Context, jobID, dependsOnJobID uuid.UUID) error {
	if jobID == dependsOnJobID {
		return errs.NewValidation("a job cannot depend on itself")
	}
	return s.withRetry(ctx, "store", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			cyclic, err := wouldCreateCycle(tx, jobID, dependsOnJobID)
			if err != nil {
				return err
			}
			if cyclic {
				return permanentIfCoded(errs.NewValidation("dependency edge would introduce a cycle"))
			}
			return tx.Create(&domain.DependencyEdge{
				JobID:          jobID,
				DependsOnJobID: dependsOnJobID,
				CreatedAt:      time.Now(),
			}).Error
		})
	})
}

// wouldCreateCycle reports whether adding jobID -> dependsOnJobID would
// create a cycle, by walking forward from dependsOnJobID through existing
// edges looking for a path back to jobID (a DFS over the would-be graph).
func wouldCreateCycle(tx *gorm.DB, jobID, dependsOnJobID uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]bool{}
	stack := []uuid.UUID{dependsOnJobID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == jobID {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		var edges []domain.DependencyEdge
		if err := tx.Where("job_id = ?", cur).Find(&edges).Error; err != nil {
			return false, err
		}
		for _, e := range edges {
			stack = append(stack, e.DependsOnJobID)
		}
	}
	return false, nil
}
