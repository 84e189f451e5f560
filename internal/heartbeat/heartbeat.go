// Package heartbeat is the Heartbeat Monitor: a periodic sweep that detects
// stale worker leases and reclaims their jobs. Like internal/scheduler it
// is driven by oss.nandlabs.io/golly/chrono and exposed as an
// oss.nandlabs.io/golly/lifecycle.Component, and its reclaim queries share
// the Store's skip-locked pattern so multiple monitor instances never
// double-reclaim the same worker's jobs.
package heartbeat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra/corectl/internal/domain"
	"github.com/orchestra/corectl/internal/platform/logger"
	"oss.nandlabs.io/golly/chrono"
	"oss.nandlabs.io/golly/lifecycle"
)

// Store is the narrow slice of the Durable Store the Monitor needs.
type Store interface {
	ListStaleWorkers(ctx context.Context, staleThreshold time.Duration) ([]*domain.Worker, error)
	ReassignJobsOfWorker(ctx context.Context, workerID uuid.UUID) (reclaimed, died []*domain.Job, err error)
	SweepOrphanScheduled(ctx context.Context, grace time.Duration) (int, error)
	CleanupStoppedWorkers(ctx context.Context, window time.Duration) (int, error)
}

// Broker is the narrow slice of the Queue/Lease Broker the Monitor needs —
// died jobs must be pushed to the DLQ even though the Store already marked
// them DEAD.
type Broker interface {
	SendToDLQ(ctx context.Context, jobID, reason string) error
}

// Config carries the Monitor's tunables.
type Config struct {
	// Tick is T, the sweep period (default 30s).
	Tick time.Duration
	// StaleThreshold is H, how old last_heartbeat must be to call a worker
	// STALE (default 90s).
	StaleThreshold time.Duration
	// OrphanGrace bounds how long a SCHEDULED job may sit unclaimed by any
	// worker before the orphan sweep reverts it to PENDING (default
	// 2*Tick — see DESIGN.md's Open Question decisions).
	OrphanGrace time.Duration
	// StoppedWindow is how long a STOPPED worker row survives before
	// cleanup deletes it.
	StoppedWindow time.Duration
}

// Monitor implements lifecycle.Component over a chrono.Scheduler tick.
type Monitor struct {
	store  Store
	broker Broker
	log    *logger.Logger
	cfg    Config
	clock  chrono.Scheduler
	state  lifecycle.ComponentState
}

// New builds a Monitor, defaulting any unset tunables.
func New(store Store, broker Broker, baseLog *logger.Logger, cfg Config) *Monitor {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 90 * time.Second
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = 2 * cfg.Tick
	}
	if cfg.StoppedWindow <= 0 {
		cfg.StoppedWindow = 24 * time.Hour
	}
	return &Monitor{
		store:  store,
		broker: broker,
		log:    baseLog.With("component", "HeartbeatMonitor"),
		cfg:    cfg,
		clock:  chrono.New(chrono.WithCheckInterval(cfg.Tick)),
		state:  lifecycle.Stopped,
	}
}

func (m *Monitor) Id() string { return "heartbeat-monitor" }

func (m *Monitor) OnChange(prev, next lifecycle.ComponentState) {
	m.log.Info("heartbeat monitor state change", "from", prev, "to", next)
}

func (m *Monitor) State() lifecycle.ComponentState { return m.state }

func (m *Monitor) Start() error {
	m.setState(lifecycle.Starting)
	err := m.clock.AddIntervalJob("heartbeat-sweep", "heartbeat monitor tick", func(ctx context.Context) error {
		return m.RunOnce(ctx)
	}, m.cfg.Tick)
	if err != nil {
		m.setState(lifecycle.Error)
		return err
	}
	if err := m.clock.Start(); err != nil {
		m.setState(lifecycle.Error)
		return err
	}
	m.setState(lifecycle.Running)
	return nil
}

func (m *Monitor) Stop() error {
	m.setState(lifecycle.Stopping)
	if err := m.clock.Stop(); err != nil {
		m.setState(lifecycle.Error)
		return err
	}
	m.setState(lifecycle.Stopped)
	return nil
}

func (m *Monitor) setState(next lifecycle.ComponentState) {
	prev := m.state
	m.state = next
	m.OnChange(prev, next)
}

// RunOnce executes exactly one sweep: (a) stale worker detection, (b)
// per-stale-worker job reassignment, (c) orphan SCHEDULED sweep, (d) stopped
// worker cleanup — in that order.
func (m *Monitor) RunOnce(ctx context.Context) error {
	staleWorkers, err := m.store.ListStaleWorkers(ctx, m.cfg.StaleThreshold)
	if err != nil {
		m.log.Warn("list stale workers failed", "error", err)
		return err
	}

	for _, w := range staleWorkers {
		reclaimed, died, err := m.store.ReassignJobsOfWorker(ctx, w.ID)
		if err != nil {
			m.log.Warn("reassign jobs of stale worker failed", "worker_id", w.ID, "error", err)
			continue
		}
		for _, job := range died {
			if err := m.broker.SendToDLQ(ctx, job.ID.String(), "worker lease expired, attempts exhausted"); err != nil {
				m.log.Warn("send to DLQ failed", "job_id", job.ID, "error", err)
			}
		}
		if len(reclaimed) > 0 || len(died) > 0 {
			m.log.Info("reassigned jobs of stale worker", "worker_id", w.ID, "reclaimed", len(reclaimed), "died", len(died))
		}
	}

	orphaned, err := m.store.SweepOrphanScheduled(ctx, m.cfg.OrphanGrace)
	if err != nil {
		m.log.Warn("sweep orphan scheduled jobs failed", "error", err)
		return err
	}
	if orphaned > 0 {
		m.log.Info("reverted orphan scheduled jobs to pending", "count", orphaned)
	}

	cleaned, err := m.store.CleanupStoppedWorkers(ctx, m.cfg.StoppedWindow)
	if err != nil {
		m.log.Warn("cleanup stopped workers failed", "error", err)
		return err
	}
	if cleaned > 0 {
		m.log.Info("cleaned up stopped worker records", "count", cleaned)
	}
	return nil
}
