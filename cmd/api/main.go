// Command api serves the ExecutionAPI HTTP surface (spec §6): workflow
// execution requests in, execution/batch-result reads out. Wiring follows
// the explicit construct-everything-in-main style of alya's
// jobs/examples/batch-append/main.go rather than a framework bootstrap.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/remiges-tech/masstock/internal/api"
	"github.com/remiges-tech/masstock/internal/app"
	"github.com/remiges-tech/masstock/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	a, err := app.Build(ctx, cfg, "api")
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()

	handler := api.NewHandler(a.Repo, a.Queue, a.Artifacts, a.Logger)
	router := api.NewRouter(handler, cfg.JWTSigningKey, cfg.AllowedOrigins)

	metricsSrv := &http.Server{Addr: ":9090", Handler: metricsMux(a)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	go func() {
		log.Printf("execution api listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func metricsMux(a *app.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	return mux
}
