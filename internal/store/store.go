// Package store is the Durable Store: the single transactional source of
// truth for jobs, dependency edges, workflows, and the worker registry.
// Every change to a job's status goes through a compare-and-set or a
// skip-locked claim — nothing here ever changes a job's status with a blind
// UPDATE. Other columns (a job's workflow_id, worker and workflow rows) are
// updated by id without a status guard.
//
// Built on gorm + postgres, using clause.Locking{Strength:"UPDATE",
// Options:"SKIP LOCKED"} for claims and a status-guarded UPDATE for job
// status CAS.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"

	"github.com/orchestra/corectl/internal/domain/errs"
	"github.com/orchestra/corectl/internal/platform/logger"
)

// DefaultTransientDeadline bounds how long withRetry keeps retrying a
// transient infrastructure failure before giving up and returning
// UNAVAILABLE.
const DefaultTransientDeadline = 5 * time.Second

// Store wraps a *gorm.DB with the orchestration-core persistence surface.
type Store struct {
	db                *gorm.DB
	log               *logger.Logger
	transientDeadline time.Duration
}

// New builds a Store over an already-connected *gorm.DB (see
// internal/platform/db.Connect).
func New(db *gorm.DB, baseLog *logger.Logger) *Store {
	return &Store{db: db, log: baseLog.With("component", "Store"), transientDeadline: DefaultTransientDeadline}
}

// DB exposes the underlying handle for migration tooling and tests; business
// code should prefer the typed methods below.
func (s *Store) DB() *gorm.DB { return s.db }

// withRetry runs op, retrying with bounded exponential backoff if it keeps
// failing. A calling component retries transient infrastructure failures
// (dropped connections, statement timeouts) until transientDeadline
// elapses, then gives up and returns UNAVAILABLE for component.
//
// op is responsible for distinguishing the two failure classes itself: a
// contract violation (CONFLICT, NOT_FOUND, VALIDATION, INVALID_TRANSITION,
// a duplicate-key error already mapped to a Code) must be wrapped in
// backoff.Permanent before returning, so it surfaces immediately instead of
// being retried or folded into UNAVAILABLE.
func (s *Store) withRetry(ctx context.Context, component string, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(s.transientDeadline),
	)
	if err == nil {
		return nil
	}
	if _, ok := errs.As(err); ok {
		return err
	}
	return errs.NewUnavailable(component, err)
}

// permanentIfCoded wraps err in backoff.Permanent when it is a known
// contract-violation Code (NOT_FOUND, CONFLICT, ...), so withRetry stops
// retrying and returns it unchanged. Any other non-nil error is returned
// as-is, so withRetry keeps treating it as a transient failure and retries
// it until its deadline.
func permanentIfCoded(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.As(err); ok {
		return backoff.Permanent(err)
	}
	return err
}

// isUniqueViolation is a best-effort check for a Postgres unique-constraint
// error, independent of whether the caller is running against real Postgres
// or an sqlmock expectation in tests.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// pgx/pq both surface SQLSTATE 23505 in the error text when the driver
	// doesn't expose a typed constraint error through gorm.
	return containsAny(err.Error(), "23505", "duplicate key", "UNIQUE constraint")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// wrapNotFound converts gorm.ErrRecordNotFound into the domain NOT_FOUND
// error; any other error passes through unchanged.
func wrapNotFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NewNotFound(kind, id)
	}
	return err
}
