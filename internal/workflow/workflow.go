// Package workflow is the Workflow Aggregator: a pure function deriving a
// workflow's status from the multiset of its member jobs' statuses, plus a
// thin read-model wrapper over the Store for the get-workflow-status
// surface. This is a flat, non-hierarchical rule set — see DESIGN.md for
// why a full DAG-stage engine was not built here.
package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/orchestra/corectl/internal/domain"
)

// Store is the narrow slice of the Durable Store the aggregator needs.
type Store interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	ListJobsForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*domain.Job, error)
}

// Aggregate derives a WorkflowStatus and per-category WorkflowCounts from a
// workflow's member jobs:
//
//	COMPLETED if every job is SUCCESS (CANCELED jobs allowed alongside)
//	FAILED    if any job is DEAD
//	RUNNING   if any job is in {SCHEDULED, RUNNING, RETRYING}
//	PENDING   otherwise
//
// A workflow with no jobs at all is PENDING.
func Aggregate(jobs []*domain.Job) (domain.WorkflowStatus, domain.WorkflowCounts) {
	var counts domain.WorkflowCounts
	counts.Total = len(jobs)

	for _, j := range jobs {
		switch j.Status {
		case domain.JobPending:
			counts.Pending++
		case domain.JobScheduled:
			counts.Scheduled++
		case domain.JobRunning:
			counts.Running++
		case domain.JobSuccess:
			counts.Success++
		case domain.JobFailed:
			counts.Failed++
		case domain.JobRetrying:
			counts.Retrying++
		case domain.JobDead:
			counts.Dead++
		case domain.JobCanceled:
			counts.Canceled++
		}
	}

	if counts.Dead > 0 {
		return domain.WorkflowFailed, counts
	}
	if counts.Scheduled > 0 || counts.Running > 0 || counts.Retrying > 0 {
		return domain.WorkflowRunning, counts
	}
	if counts.Total > 0 && counts.Success+counts.Canceled == counts.Total {
		return domain.WorkflowCompleted, counts
	}
	return domain.WorkflowPending, counts
}

// Aggregator wraps Aggregate with the Store reads needed to answer
// get-workflow-status.
type Aggregator struct {
	store Store
}

// New builds an Aggregator.
func New(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// View fetches the workflow and its jobs and returns the aggregated read
// model, or NOT_FOUND if the workflow does not exist.
func (a *Aggregator) View(ctx context.Context, workflowID uuid.UUID) (*domain.WorkflowView, error) {
	wf, err := a.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	jobs, err := a.store.ListJobsForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	status, counts := Aggregate(jobs)
	return &domain.WorkflowView{Workflow: *wf, Status: status, Counts: counts}, nil
}
