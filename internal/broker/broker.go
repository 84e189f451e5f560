// Package broker is the Queue/Lease Broker: a low-latency, advisory
// key-value service fronting the ready queue and the dead-letter tier.
// Built on redis/go-redis/v9, wired to a priority sorted set rather than a
// pub/sub channel, since the contract here is "next ready job_id", not
// "broadcast an event".
//
// The Broker never owns truth: losing an entry delays scheduling until the
// Heartbeat Monitor's orphan sweep reclaims the job — it must never corrupt
// the Store.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/orchestra/corectl/internal/domain/errs"
	"github.com/orchestra/corectl/internal/platform/logger"
)

const (
	readyKeyDefault = "corectl:ready"
	dlqKeyDefault   = "corectl:dlq"
)

// DefaultTransientDeadline bounds how long withRetry keeps retrying a
// transient Redis failure before giving up and returning UNAVAILABLE.
const DefaultTransientDeadline = 5 * time.Second

// Broker fronts Redis with the enqueue/lease/requeue/ack/DLQ contract.
type Broker struct {
	rdb               *redis.Client
	log               *logger.Logger
	readyKey          string
	dlqKey            string
	transientDeadline time.Duration
}

// Config carries the Redis connection knobs (teacher's REDIS_ADDR pattern).
type Config struct {
	Addr     string
	Password string
	DB       int
	ReadyKey string
	DLQKey   string
}

// New builds a Broker over a redis.Client.
func New(cfg Config, baseLog *logger.Logger) *Broker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	readyKey := cfg.ReadyKey
	if readyKey == "" {
		readyKey = readyKeyDefault
	}
	dlqKey := cfg.DLQKey
	if dlqKey == "" {
		dlqKey = dlqKeyDefault
	}
	return &Broker{
		rdb:               rdb,
		log:               baseLog.With("component", "Broker"),
		readyKey:          readyKey,
		dlqKey:            dlqKey,
		transientDeadline: DefaultTransientDeadline,
	}
}

// Ping verifies connectivity at startup.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (b *Broker) Close() error { return b.rdb.Close() }

// withRetry retries a Redis call with bounded exponential backoff until it
// succeeds or transientDeadline elapses, then reports UNAVAILABLE. Every
// Redis failure here is transient infrastructure noise (a dropped
// connection, a momentarily unreachable server) — the Broker never itself
// raises a contract violation, so unlike Store.withRetry there is nothing
// here to distinguish with backoff.Permanent.
func (b *Broker) withRetry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(b.transientDeadline),
	)
	if err == nil {
		return nil
	}
	return errs.NewUnavailable("broker", err)
}

// score encodes (priority DESC, enqueue-order ASC) into a single sortable
// float64, so ZPOPMAX always returns the highest priority, and within equal
// priority, the earliest-enqueued entry (FIFO).
//
// priority is 0-10; each priority step is worth 1e15 ns (about 11.6 days)
// of enqueue time, so a higher-priority entry outranks a lower-priority one
// unless it was enqueued more than that many days per step later, while
// entries at the same priority sort by arrival time (earlier nanosecond
// timestamp => larger score).
func score(priority int, enqueuedAt time.Time) float64 {
	return float64(priority)*1e15 - float64(enqueuedAt.UnixNano())
}

// Enqueue adds job_id to the ready set at the given priority. Idempotent on
// job_id: ZADD NX leaves an already-queued entry untouched rather than
// resetting its position.
func (b *Broker) Enqueue(ctx context.Context, jobID string, priority int) error {
	return b.withRetry(ctx, func() error {
		return b.rdb.ZAddNX(ctx, b.readyKey, redis.Z{
			Score:  score(priority, time.Now()),
			Member: jobID,
		}).Err()
	})
}

// Lease returns the next job_id under priority order, blocking up to
// timeout. Returns ("", nil) on timeout (no job_id ready) rather than an
// error, so the Worker Runtime's lease loop can distinguish "nothing to do"
// from an actual Broker failure. Deliberately not run through withRetry: it
// already blocks for up to timeout waiting on real work, and the Worker
// Runtime's lease loop immediately calls it again in a tight loop, so
// wrapping it in its own bounded backoff would only turn one long wait into
// a different long wait while masking the caller's chosen timeout.
func (b *Broker) Lease(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := b.rdb.BZPopMax(ctx, timeout, b.readyKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.Member.(string)
	if !ok {
		return "", fmt.Errorf("broker: unexpected member type %T for leased entry", res.Member)
	}
	return jobID, nil
}

// Requeue returns a previously leased job_id to the ready set at the given
// priority — used when a worker abandons a lease it can't execute (e.g. the
// Store CAS to RUNNING failed because someone else reclaimed the job first).
func (b *Broker) Requeue(ctx context.Context, jobID string, priority int) error {
	return b.Enqueue(ctx, jobID, priority)
}

// Ack is a no-op confirmation: once BZPopMax removes an entry it is already
// gone from the ready set, so there is nothing left to acknowledge. It
// exists as a named call site so the Worker Runtime's execution steps read
// as a clear numbered sequence.
func (b *Broker) Ack(ctx context.Context, jobID string) error { return nil }

// SendToDLQ records a DEAD job in the append-only dead-letter collection.
func (b *Broker) SendToDLQ(ctx context.Context, jobID, reason string) error {
	entry := fmt.Sprintf("%s|%s|%s", jobID, reason, time.Now().UTC().Format(time.RFC3339Nano))
	return b.withRetry(ctx, func() error {
		return b.rdb.RPush(ctx, b.dlqKey, entry).Err()
	})
}

// Purge clears only the ready collection — operator-only, never touches the
// Store or the DLQ.
func (b *Broker) Purge(ctx context.Context) error {
	return b.withRetry(ctx, func() error {
		return b.rdb.Del(ctx, b.readyKey).Err()
	})
}

// Stats is the get-queue-stats response.
type Stats struct {
	ReadyLength int64
	DLQLength   int64
}

// QueueStats reports the current ready and DLQ collection lengths.
func (b *Broker) QueueStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := b.withRetry(ctx, func() error {
		readyLen, err := b.rdb.ZCard(ctx, b.readyKey).Result()
		if err != nil {
			return err
		}
		dlqLen, err := b.rdb.LLen(ctx, b.dlqKey).Result()
		if err != nil {
			return err
		}
		stats = Stats{ReadyLength: readyLen, DLQLength: dlqLen}
		return nil
	})
	return stats, err
}
