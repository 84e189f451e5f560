// Package scheduler is the Scheduler component: one or more identical
// instances that atomically claim ready jobs and hand them to the Broker.
// Correctness never depends on there being exactly one instance — the
// claim itself is the Store's skip-locked transaction
// (internal/store.Store.ClaimReadyJobs); this package only drives the tick
// and the post-commit enqueue.
//
// Driven by oss.nandlabs.io/golly/chrono.Scheduler.AddIntervalJob instead of
// a hand-rolled time.Ticker loop — golly gives the same periodic-tick shape
// plus pause/resume and multi-instance distributed-lock hooks for free —
// and exposes itself as an oss.nandlabs.io/golly/lifecycle.Component so a
// process can Start/Stop it alongside the Heartbeat Monitor uniformly.
package scheduler

import (
	"context"
	"time"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/platform/logger"
	"oss.nandlabs.io/golly/chrono"
	"oss.nandlabs.io/golly/lifecycle"
)

// Store is the narrow slice of the Durable Store the Scheduler needs.
type Store interface {
	ClaimReadyJobs(ctx context.Context, limit int) ([]*domain.Job, error)
}

// Broker is the narrow slice of the Queue/Lease Broker the Scheduler needs.
type Broker interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
}

// Config carries the Scheduler's tunables.
type Config struct {
	// PollInterval is T, the tick period (default 30s, shared with the
	// Heartbeat Monitor's tick unless overridden).
	PollInterval time.Duration
	// BatchSize bounds how many jobs a single tick claims.
	BatchSize int
	// InstanceID distinguishes this Scheduler instance for golly's
	// distributed-lock coordination when running more than one.
	InstanceID string
}

// Scheduler implements lifecycle.Component over a chrono.Scheduler tick.
type Scheduler struct {
	store  Store
	broker Broker
	log    *logger.Logger
	cfg    Config
	clock  chrono.Scheduler
	state  lifecycle.ComponentState
}

// New builds a Scheduler, defaulting any unset tunables.
func New(store Store, broker Broker, baseLog *logger.Logger, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	opts := []chrono.Option{chrono.WithCheckInterval(cfg.PollInterval)}
	if cfg.InstanceID != "" {
		opts = append(opts, chrono.WithInstanceID(cfg.InstanceID))
	}
	return &Scheduler{
		store:  store,
		broker: broker,
		log:    baseLog.With("component", "Scheduler"),
		cfg:    cfg,
		clock:  chrono.New(opts...),
		state:  lifecycle.Stopped,
	}
}

// Id satisfies lifecycle.Component.
func (s *Scheduler) Id() string { return "scheduler" }

// OnChange satisfies lifecycle.Component; logs transitions.
func (s *Scheduler) OnChange(prev, next lifecycle.ComponentState) {
	s.log.Info("scheduler state change", "from", prev, "to", next)
}

// State satisfies lifecycle.Component.
func (s *Scheduler) State() lifecycle.ComponentState { return s.state }

// Start registers the claim tick and starts the underlying chrono.Scheduler.
func (s *Scheduler) Start() error {
	s.setState(lifecycle.Starting)
	err := s.clock.AddIntervalJob("claim-ready-jobs", "scheduler tick", func(ctx context.Context) error {
		return s.RunOnce(ctx)
	}, s.cfg.PollInterval)
	if err != nil {
		s.setState(lifecycle.Error)
		return err
	}
	if err := s.clock.Start(); err != nil {
		s.setState(lifecycle.Error)
		return err
	}
	s.setState(lifecycle.Running)
	return nil
}

// Stop stops the underlying chrono.Scheduler, letting any in-flight tick
// finish (chrono's job context is canceled only on process shutdown, not on
// Stop, so a claim transaction already committed always reaches the enqueue
// step or is recovered by the orphan sweep).
func (s *Scheduler) Stop() error {
	s.setState(lifecycle.Stopping)
	err := s.clock.Stop()
	if err != nil {
		s.setState(lifecycle.Error)
		return err
	}
	s.setState(lifecycle.Stopped)
	return nil
}

func (s *Scheduler) setState(next lifecycle.ComponentState) {
	prev := s.state
	s.state = next
	s.OnChange(prev, next)
}

// RunOnce executes exactly one claim-then-enqueue cycle: claim ready jobs,
// then hand each to the Broker in priority order. Exported so
// cmd/orchestratord and tests can drive a single tick deterministically
// instead of waiting on the chrono interval.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	claimed, err := s.store.ClaimReadyJobs(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("claim ready jobs failed", "error", err)
		return err
	}
	for _, job := range claimed {
		if err := s.broker.Enqueue(ctx, job.ID.String(), job.Priority); err != nil {
			// Step (d): if enqueue fails after commit, the job stays
			// SCHEDULED; the Heartbeat Monitor's orphan sweep
			// reverts it to PENDING after the grace period. Never retry
			// the claim here — that would double-schedule.
			s.log.Warn("broker enqueue failed after claim; job will be reclaimed by orphan sweep",
				"job_id", job.ID, "error", err)
			continue
		}
	}
	if len(claimed) > 0 {
		s.log.Debug("claimed jobs", "count", len(claimed))
	}
	return nil
}
