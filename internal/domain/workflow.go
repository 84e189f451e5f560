package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Workflow groups jobs under a named unit. Status is never stored — it is
// always derived by internal/workflow from the member jobs' statuses.
type Workflow struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Name        string         `gorm:"not null;uniqueIndex"`
	Description string         `gorm:"column:description"`
	Config      datatypes.JSON `gorm:"column:config"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
}

func (Workflow) TableName() string { return "workflows" }

// WorkflowCounts tallies member jobs by status for observability, returned
// alongside the derived WorkflowStatus by internal/workflow.Aggregate.
type WorkflowCounts struct {
	Pending   int
	Scheduled int
	Running   int
	Success   int
	Failed    int
	Retrying  int
	Dead      int
	Canceled  int
	Total     int
}

// WorkflowView is the read model returned by get-workflow-status.
type WorkflowView struct {
	Workflow Workflow
	Status   WorkflowStatus
	Counts   WorkflowCounts
}
