// Command worker drains the job queue and runs each execution through the
// C6 state machine (spec §4.6). Wiring mirrors cmd/api's explicit
// construct-in-main style; the two binaries share internal/app's Build but
// assemble different top-level components on top of it.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/remiges-tech/masstock/internal/app"
	"github.com/remiges-tech/masstock/internal/config"
	"github.com/remiges-tech/masstock/internal/worker"
)

// deadLetterSweepInterval is how often SweepDeadLetters finalizes executions
// behind a job that exhausted JobQueue's retry budget.
const deadLetterSweepInterval = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	a, err := app.Build(ctx, cfg, "worker")
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		if err := http.ListenAndServe(":9091", mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	w := worker.New(a.Repo, a.RateGate, a.ImageGen, a.Artifacts, a.Credentials, a.Metrics, worker.Concurrency{
		Flash: cfg.PromptConcurrencyFlash,
		Pro:   cfg.PromptConcurrencyPro,
	})

	go func() {
		ticker := time.NewTicker(deadLetterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.SweepDeadLetters(ctx, a.Queue); err != nil {
					log.Printf("sweep dead letters: %v", err)
				}
			}
		}
	}()

	log.Printf("worker consuming with concurrency %d", cfg.WorkerConcurrency)
	if err := a.Queue.Consume(ctx, w.Handle, cfg.WorkerConcurrency); err != nil {
		log.Fatalf("consume: %v", err)
	}
}
