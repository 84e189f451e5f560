package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/orchestra/corectl/internal/platform/testutil"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run broker integration tests")
	}
	b := New(Config{
		Addr:     addr,
		ReadyKey: "corectl:test:ready:" + t.Name(),
		DLQKey:   "corectl:test:dlq:" + t.Name(),
	}, testutil.Logger(t))
	ctx := context.Background()
	if err := b.Ping(ctx); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		_ = b.Purge(context.Background())
		_ = b.Close()
	})
	return b
}

func TestEnqueueLease_PriorityOrder(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Enqueue(ctx, "low", 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Enqueue(ctx, "high", 9); err != nil {
		t.Fatal(err)
	}
	if err := b.Enqueue(ctx, "mid", 5); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"high", "mid", "low"} {
		got, err := b.Lease(ctx, time.Second)
		if err != nil {
			t.Fatalf("lease: %v", err)
		}
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestEnqueue_IdempotentOnJobID(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Enqueue(ctx, "once", 5); err != nil {
		t.Fatal(err)
	}
	if err := b.Enqueue(ctx, "once", 9); err != nil {
		t.Fatal(err)
	}

	stats, err := b.QueueStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ReadyLength != 1 {
		t.Fatalf("expected exactly one ready entry, got %d", stats.ReadyLength)
	}
}

func TestLease_TimeoutReturnsEmptyNotError(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	got, err := b.Lease(ctx, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("expected nil error on empty lease timeout, got %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty job id, got %q", got)
	}
}

func TestSendToDLQ_AndStats(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.SendToDLQ(ctx, "dead-job", "max attempts exceeded"); err != nil {
		t.Fatal(err)
	}
	stats, err := b.QueueStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DLQLength != 1 {
		t.Fatalf("expected one DLQ entry, got %d", stats.DLQLength)
	}
}

func TestPurge_ClearsReadyOnly(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Enqueue(ctx, "to-purge", 5); err != nil {
		t.Fatal(err)
	}
	if err := b.SendToDLQ(ctx, "kept", "reason"); err != nil {
		t.Fatal(err)
	}
	if err := b.Purge(ctx); err != nil {
		t.Fatal(err)
	}
	stats, err := b.QueueStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ReadyLength != 0 {
		t.Errorf("expected ready queue purged, got length %d", stats.ReadyLength)
	}
	if stats.DLQLength != 1 {
		t.Errorf("expected DLQ untouched by purge, got length %d", stats.DLQLength)
	}
}
