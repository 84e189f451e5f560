package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job is the durable record for a single unit of scheduled work. Mutation of
// Status must always go through a compare-and-set against the expected prior
// status — see internal/store.Store.UpdateJobStatus — never a blind UPDATE.
type Job struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Type           string         `gorm:"column:job_type;not null;index"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	Priority       int            `gorm:"not null;default:5"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null;uniqueIndex"`
	ScheduledAt    time.Time      `gorm:"column:scheduled_at;not null;index:idx_jobs_claim,priority 2"`
	Status         JobStatus      `gorm:"column:status;not null;index:idx_jobs_claim,priority 1"`
	Attempts       int            `gorm:"column:attempts;not null;default:0"`
	MaxAttempts    int            `gorm:"column:max_attempts;not null;default:3"`
	RetryPolicy    RetryPolicyTag `gorm:"column:retry_policy;not null;default:EXPONENTIAL"`
	BaseDelay      time.Duration  `gorm:"column:base_delay;not null"`
	Timeout        time.Duration  `gorm:"column:timeout;not null"`
	WorkerID       *string        `gorm:"column:worker_id"`
	StartedAt      *time.Time     `gorm:"column:started_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`
	ErrorMessage   *string        `gorm:"column:error_message"`
	ErrorDetail    *string        `gorm:"column:error_detail"`
	Result         datatypes.JSON `gorm:"column:result"`
	ResultBlobRef  *string        `gorm:"column:result_blob_ref"`
	WorkflowID     *uuid.UUID     `gorm:"type:uuid;column:workflow_id;index"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;index:idx_jobs_claim,priority 3"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
}

func (Job) TableName() string { return "jobs" }

// HasWorker reports the invariant that WorkerID is non-null iff status is
// SCHEDULED or RUNNING.
func (j *Job) HasWorker() bool {
	return j.WorkerID != nil && *j.WorkerID != ""
}

// ExhaustedRetries reports whether one more failed attempt would meet or
// exceed MaxAttempts.
func (j *Job) ExhaustedRetries() bool {
	return j.Attempts+1 >= j.MaxAttempts
}

// DependencyEdge is a directed (job_id depends_on depends_on_job_id) pair.
// The composite primary key enforces at most one edge between any pair; cycle
// rejection happens at insertion time in internal/store.
type DependencyEdge struct {
	JobID         uuid.UUID `gorm:"type:uuid;primaryKey;column:job_id"`
	DependsOnJobID uuid.UUID `gorm:"type:uuid;primaryKey;column:depends_on_job_id"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (DependencyEdge) TableName() string { return "dependency_edges" }

// CompensationAction is an append-only, sequenced record a handler may write
// alongside its terminal status update, so that a DEAD job's partial side
// effects can be unwound by an operator tool.
type CompensationAction struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	JobID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_compensation_job_seq,priority 1"`
	Seq        int            `gorm:"not null;uniqueIndex:idx_compensation_job_seq,priority 2"`
	Kind       string         `gorm:"not null"`
	Detail     datatypes.JSON `gorm:"column:detail"`
	Applied    bool           `gorm:"not null;default:false"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
}

func (CompensationAction) TableName() string { return "compensation_actions" }
