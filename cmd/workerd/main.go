// Command workerd is a worker process: it registers itself, leases job_ids
// from the Queue/Lease Broker, and dispatches them to handlers in its
// Registry. Job handlers are domain-specific collaborators this module
// never implements itself — as shipped the Registry is empty; operators
// building on corectl add workerrt.Registry.Register calls for their own
// job types below, before Start.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/orchestra/corectl/internal/broker"
	"github.com/orchestra/corectl/internal/config"
	"github.com/orchestra/corectl/internal/platform/db"
	"github.com/orchestra/corectl/internal/platform/logger"
	"github.com/orchestra/corectl/internal/platform/otelx"
	"github.com/orchestra/corectl/internal/store"
	"github.com/orchestra/corectl/internal/workerrt"
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

	shutdownTracing := otelx.Init(ctx, log, otelx.Config{ServiceName: "workerd"})
	defer shutdownTracing(context.Background())

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	st := store.New(gdb, log)

	bk := broker.New(broker.Config{Addr: cfg.RedisAddr}, log)
	if err := bk.Ping(ctx); err != nil {
		log.Fatal("failed to reach broker", "error", err)
	}
	defer bk.Close()

	registry := workerrt.NewRegistry()
	// Operators register their job_type handlers here, e.g.:
	//   registry.Register(myhandlers.EmailSender{})

	hostname, _ := os.Hostname()
	rt := workerrt.New(st, bk, registry, log, workerrt.Config{
		Hostname:          hostname,
		ProcessIdentity:   hostname,
		MaxConcurrentJobs: cfg.WorkerConcurrency,
		ShutdownDeadline:  cfg.ShutdownDeadline,
	})

	if err := rt.Start(ctx); err != nil {
		log.Fatal("failed to start worker runtime", "error", err)
	}
	log.Info("workerd started", "worker_id", rt.WorkerID())

	<-ctx.Done()
	log.Info("workerd shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer cancel()
	if err := rt.Stop(stopCtx); err != nil {
		log.Warn("worker runtime stop error", "error", err)
	}
}
