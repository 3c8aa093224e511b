package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"enforcement-engine/internal/config"
	"enforcement-engine/internal/enforce"
	"enforcement-engine/internal/queue"
	"enforcement-engine/internal/store"
	"enforcement-engine/internal/telemetry"
	workerproc "enforcement-engine/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	eng := enforce.NewEngine(cfg, st, q)

	processor := workerproc.NewProcessor(cfg, eng, q, st)
	workerproc.RegisterDefaultHandlers(processor, eng)

	archiver, err := workerproc.NewSnapshotArchiver(ctx, cfg, eng)
	if err != nil {
		log.Fatalf("init snapshot archiver: %v", err)
	}
	go archiver.Run(ctx)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started with visibility=%s backoff_initial=%s", cfg.VisibilityTimeout, cfg.BackoffInitial)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
