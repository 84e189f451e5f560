package domain

// JobStatus is the lifecycle state of a Job. The legal transition graph lives
// in internal/statemachine, not here — this package only names the states.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobScheduled JobStatus = "SCHEDULED"
	JobRunning   JobStatus = "RUNNING"
	JobSuccess   JobStatus = "SUCCESS"
	JobFailed    JobStatus = "FAILED"
	JobRetrying  JobStatus = "RETRYING"
	JobDead      JobStatus = "DEAD"
	JobCanceled  JobStatus = "CANCELED"
)

// Terminal reports whether no further transition out of s is legal.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccess, JobDead, JobCanceled:
		return true
	default:
		return false
	}
}

// RetryPolicyTag selects the backoff shape used by internal/retry.
type RetryPolicyTag string

const (
	RetryFixed       RetryPolicyTag = "FIXED"
	RetryExponential RetryPolicyTag = "EXPONENTIAL"
	RetryJitter      RetryPolicyTag = "JITTER"
)

// WorkerStatus is the liveness state of a registered Worker.
type WorkerStatus string

const (
	WorkerActive  WorkerStatus = "ACTIVE"
	WorkerStale   WorkerStatus = "STALE"
	WorkerStopped WorkerStatus = "STOPPED"
)

// WorkflowStatus is the status an aggregator (internal/workflow) derives for
// a Workflow from the statuses of its member jobs. Never persisted directly.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
)

// SentinelWorkerID marks a job whose worker_id is set only to record "handed
// to the broker, not yet leased by any real worker".
const SentinelWorkerID = "00000000-0000-0000-0000-000000000000"
