package workerrt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/platform/logger"
	"github.com/orchestra/corectl/internal/retry"
)

// Store is the narrow slice of the Durable Store the Worker Runtime needs.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, next domain.JobStatus, extra map[string]interface{}) error
	UpsertWorker(ctx context.Context, w *domain.Worker) error
	TouchWorkerHeartbeat(ctx context.Context, workerID uuid.UUID, telemetry datatypes.JSONMap) error
	MarkWorkerStopped(ctx context.Context, workerID uuid.UUID) error
	AppendCompensationAction(ctx context.Context, jobID uuid.UUID, kind string, detail datatypes.JSON) error
}

// Broker is the narrow slice of the Queue/Lease Broker the Worker Runtime
// needs.
type Broker interface {
	Lease(ctx context.Context, timeout time.Duration) (string, error)
	Requeue(ctx context.Context, jobID string, priority int) error
	Ack(ctx context.Context, jobID string) error
	SendToDLQ(ctx context.Context, jobID, reason string) error
}

// Config carries the Worker Runtime's tunables.
type Config struct {
	Hostname          string
	ProcessIdentity   string
	Version           string
	MaxConcurrentJobs int
	LeaseTimeout      time.Duration
	HeartbeatInterval time.Duration
	// HeartbeatMaxFailures is the number of consecutive heartbeat send
	// failures that triggers graceful shutdown.
	HeartbeatMaxFailures int
	ShutdownDeadline     time.Duration
}

// Runtime is the Worker Runtime: one registered worker process running a
// heartbeat emitter, a lease loop, and per-job execution under a local
// concurrency permit. Correctness never depends on the permit — only the
// Store's compare-and-set does; the permit only bounds resource use.
type Runtime struct {
	store    Store
	broker   Broker
	registry *Registry
	log      *logger.Logger
	cfg      Config

	workerID uuid.UUID
	sem      *semaphore.Weighted

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{}
}

// New builds a Worker Runtime, defaulting any unset tunables.
func New(store Store, broker Broker, registry *Registry, baseLog *logger.Logger, cfg Config) *Runtime {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatMaxFailures <= 0 {
		cfg.HeartbeatMaxFailures = 5
	}
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = 30 * time.Second
	}
	return &Runtime{
		store:    store,
		broker:   broker,
		registry: registry,
		log:      baseLog.With("component", "WorkerRuntime"),
		cfg:      cfg,
		workerID: uuid.New(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		stopped:  make(chan struct{}),
	}
}

// WorkerID is the identity this runtime registers and leases jobs under.
func (r *Runtime) WorkerID() uuid.UUID { return r.workerID }

// Start registers the worker and launches the heartbeat emitter and lease
// loop as background goroutines. It returns once registration succeeds.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.store.UpsertWorker(ctx, &domain.Worker{
		ID:                r.workerID,
		Hostname:          r.cfg.Hostname,
		ProcessIdentity:   r.cfg.ProcessIdentity,
		Version:           r.cfg.Version,
		MaxConcurrentJobs: r.cfg.MaxConcurrentJobs,
		Status:            domain.WorkerActive,
	}); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go r.runHeartbeatEmitter(runCtx)
	go r.runLeaseLoop(runCtx)
	return nil
}

// Stop stops accepting new leases and waits up to ShutdownDeadline for
// in-flight executions to finish; anything still running at the deadline is
// left for the Heartbeat Monitor to reclaim.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.cfg.ShutdownDeadline):
		r.log.Warn("shutdown deadline reached with executions still in flight; leaving them for the heartbeat monitor")
	}
	return r.store.MarkWorkerStopped(ctx, r.workerID)
}

// runHeartbeatEmitter sends touch-worker-heartbeat every HeartbeatInterval;
// on send failure it retries after an exponential backoff delay (the next
// tick is moved to that delay, and back to HeartbeatInterval once a send
// succeeds), and after
// HeartbeatMaxFailures consecutive failures initiates graceful shutdown by
// canceling the runtime's internal context.
func (r *Runtime) runHeartbeatEmitter(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			backoffDelay := time.Duration(0)
			if err := r.store.TouchWorkerHeartbeat(ctx, r.workerID, nil); err != nil {
				consecutiveFailures++
				backoffDelay = retry.NextDelayCapped(consecutiveFailures-1, domain.RetryExponential, time.Second, 30*time.Second)
				r.log.Warn("heartbeat send failed", "error", err, "consecutive_failures", consecutiveFailures, "next_retry_in", backoffDelay)
				if consecutiveFailures >= r.cfg.HeartbeatMaxFailures {
					r.log.Error("heartbeat failures exceeded threshold; initiating graceful shutdown", "consecutive_failures", consecutiveFailures)
					if r.cancel != nil {
						r.cancel()
					}
					return
				}
				ticker.Reset(backoffDelay)
				continue
			}
			if consecutiveFailures > 0 {
				ticker.Reset(r.cfg.HeartbeatInterval)
			}
			consecutiveFailures = 0
		}
	}
}

// runLeaseLoop repeatedly leases a job_id, acquires the local concurrency
// permit, and dispatches execution in its own goroutine.
func (r *Runtime) runLeaseLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := r.broker.Lease(ctx, r.cfg.LeaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("lease failed", "error", err)
			continue
		}
		if jobID == "" {
			continue
		}

		if err := r.sem.Acquire(ctx, 1); err != nil {
			// Context canceled while waiting for a permit; the leased job
			// is abandoned back to the broker rather than dropped.
			_ = r.broker.Requeue(context.WithoutCancel(ctx), jobID, 0)
			return
		}

		// Executions run under a context that Stop does not cancel, so an
		// in-flight handler keeps running (bounded by its own job timeout)
		// while Stop waits up to ShutdownDeadline for it.
		r.wg.Add(1)
		go func(jobID string) {
			defer r.wg.Done()
			defer r.sem.Release(1)
			r.executeOne(context.WithoutCancel(ctx), jobID)
		}(jobID)
	}
}

// executeOne runs the numbered execution steps (i)-(vi) below for a single
// leased job_id.
func (r *Runtime) executeOne(ctx context.Context, jobIDStr string) {
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		r.log.Error("leased job_id is not a valid uuid", "job_id", jobIDStr, "error", err)
		_ = r.broker.Ack(ctx, jobIDStr)
		return
	}

	// Step (i): CAS SCHEDULED -> RUNNING with worker_id = self. Abandon on
	// CAS failure — someone else already reclaimed it.
	self := r.workerID.String()
	if err := r.store.UpdateJobStatus(ctx, jobID, domain.JobScheduled, domain.JobRunning, map[string]interface{}{
		"worker_id": &self,
	}); err != nil {
		r.log.Info("CAS to running failed; abandoning lease", "job_id", jobID, "error", err)
		_ = r.broker.Ack(ctx, jobIDStr)
		return
	}

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		r.log.Error("failed to reload job after claiming", "job_id", jobID, "error", err)
		_ = r.broker.Ack(ctx, jobIDStr)
		return
	}

	// Step (ii): handler lookup.
	handler, ok := r.registry.Get(job.Type)
	if !ok {
		r.failAndRetryOrDie(ctx, job, "UNKNOWN_TYPE", "no handler registered for job_type="+job.Type)
		_ = r.broker.Ack(ctx, jobIDStr)
		return
	}

	// Step (iii): run with a wall-clock timeout equal to job.Timeout.
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, runErr := r.runHandler(execCtx, handler, job.Payload)
	if execCtx.Err() == context.DeadlineExceeded {
		r.failAndRetryOrDie(ctx, job, "TIMEOUT", "handler exceeded job timeout")
		_ = r.broker.Ack(ctx, jobIDStr)
		return
	}
	if runErr != nil {
		// Step (v): handler exception.
		r.failAndRetryOrDie(ctx, job, "HANDLER_ERROR", runErr.Error())
		_ = r.broker.Ack(ctx, jobIDStr)
		return
	}

	// Step (iv): success.
	if err := r.store.UpdateJobStatus(ctx, jobID, domain.JobRunning, domain.JobSuccess, map[string]interface{}{
		"result": result,
	}); err != nil {
		r.log.Warn("CAS to success failed; job was likely canceled concurrently", "job_id", jobID, "error", err)
	}
	// Step (vi): ack.
	_ = r.broker.Ack(ctx, jobIDStr)
}

// runHandler recovers a handler panic into an error — a handler bug must
// fail the job, not crash the runtime.
func (r *Runtime) runHandler(ctx context.Context, h Handler, payload datatypes.JSON) (result datatypes.JSON, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError{val: rec}
		}
	}()
	return h.Run(ctx, payload)
}

type panicError struct{ val any }

func (p panicError) Error() string { return "handler panic" }

// recordDeathCompensation appends a ledger entry for a job that just died so
// an operator tool reviewing the compensation ledger can see why, alongside
// any handler-authored entries for the same job. Best-effort: a failure here
// never blocks the DLQ push that already happened.
func (r *Runtime) recordDeathCompensation(ctx context.Context, job *domain.Job, reason, detail string) {
	payload, err := json.Marshal(map[string]string{"reason": reason, "detail": detail})
	if err != nil {
		r.log.Warn("failed to marshal death compensation detail", "job_id", job.ID, "error", err)
		return
	}
	if err := r.store.AppendCompensationAction(ctx, job.ID, "job_dead", payload); err != nil {
		r.log.Warn("failed to append death compensation action", "job_id", job.ID, "error", err)
	}
}

// failAndRetryOrDie transitions RUNNING -> FAILED recording reason/detail,
// then either stages FAILED -> DEAD and pushes the job to the DLQ if
// retries are exhausted, or FAILED -> RETRYING -> PENDING with attempt+1
// and a fresh scheduled_at.
func (r *Runtime) failAndRetryOrDie(ctx context.Context, job *domain.Job, reason, detail string) {
	if err := r.store.UpdateJobStatus(ctx, job.ID, domain.JobRunning, domain.JobFailed, map[string]interface{}{
		"error_message": &reason,
		"error_detail":  &detail,
	}); err != nil {
		r.log.Warn("CAS to failed failed; job was likely canceled concurrently", "job_id", job.ID, "error", err)
		return
	}

	if retry.ShouldDie(job.Attempts, job.MaxAttempts) {
		if err := r.store.UpdateJobStatus(ctx, job.ID, domain.JobFailed, domain.JobDead, map[string]interface{}{
			"attempts": job.Attempts + 1,
		}); err != nil {
			r.log.Warn("CAS to dead failed", "job_id", job.ID, "error", err)
			return
		}
		if err := r.broker.SendToDLQ(ctx, job.ID.String(), reason); err != nil {
			r.log.Warn("send to DLQ failed", "job_id", job.ID, "error", err)
		}
		r.recordDeathCompensation(ctx, job, reason, detail)
		return
	}

	if err := r.store.UpdateJobStatus(ctx, job.ID, domain.JobFailed, domain.JobRetrying, nil); err != nil {
		r.log.Warn("CAS to retrying failed", "job_id", job.ID, "error", err)
		return
	}

	delay := retry.NextDelay(job.Attempts, job.RetryPolicy, job.BaseDelay)
	if err := r.store.UpdateJobStatus(ctx, job.ID, domain.JobRetrying, domain.JobPending, map[string]interface{}{
		"attempts":     job.Attempts + 1,
		"scheduled_at": time.Now().Add(delay),
		"worker_id":    nil,
		"started_at":   nil,
	}); err != nil {
		r.log.Warn("CAS to pending (retry) failed", "job_id", job.ID, "error", err)
	}
}
