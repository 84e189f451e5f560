// Command orchestratord is the control-plane process: it runs the
// Scheduler and the Heartbeat Monitor against a shared Durable Store and
// Queue/Lease Broker. It never executes job handlers itself — see
// cmd/workerd for that.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/orchestra/corectl/internal/broker"
	"github.com/orchestra/corectl/internal/config"
	"github.com/orchestra/corectl/internal/heartbeat"
	"github.com/orchestra/corectl/internal/platform/db"
	"github.com/orchestra/corectl/internal/platform/logger"
	"github.com/orchestra/corectl/internal/platform/otelx"
	"github.com/orchestra/corectl/internal/scheduler"
	"github.com/orchestra/corectl/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := otelx.Init(ctx, log, otelx.Config{ServiceName: "orchestratord"})
	defer shutdownTracing(context.Background())

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	st := store.New(gdb, log)
	if err := st.AutoMigrate(); err != nil {
		log.Fatal("failed to migrate schema", "error", err)
	}

	bk := broker.New(broker.Config{Addr: cfg.RedisAddr}, log)
	if err := bk.Ping(ctx); err != nil {
		log.Fatal("failed to reach broker", "error", err)
	}
	defer bk.Close()

	sched := scheduler.New(st, bk, log, scheduler.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.SchedulerBatchSize,
	})
	monitor := heartbeat.New(st, bk, log, heartbeat.Config{
		Tick:           cfg.PollInterval,
		StaleThreshold: cfg.StaleThreshold,
		OrphanGrace:    cfg.OrphanGrace,
	})

	if err := sched.Start(); err != nil {
		log.Fatal("failed to start scheduler", "error", err)
	}
	if err := monitor.Start(); err != nil {
		log.Fatal("failed to start heartbeat monitor", "error", err)
	}

	log.Info("orchestratord started")
	<-ctx.Done()
	log.Info("orchestratord shutting down")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop error", "error", err)
	}
	if err := monitor.Stop(); err != nil {
		log.Warn("heartbeat monitor stop error", "error", err)
	}
}
