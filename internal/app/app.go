// Package app wires the components required by both cmd/api and
// cmd/worker: config, logger, store clients, and the domain packages built
// on top of them. Grounded on alya's service.Service (a struct holding the
// shared Config/Logger/Database plus a Dependencies bag the process reaches
// into) but built as a typed struct throughout -- every dependency this
// subsystem needs is known at compile time, so there is no map[string]any
// indirection to reach for.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	minioCreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/remiges-tech/masstock/internal/artifactstore"
	"github.com/remiges-tech/masstock/internal/config"
	"github.com/remiges-tech/masstock/internal/credentials"
	"github.com/remiges-tech/masstock/internal/domain"
	"github.com/remiges-tech/masstock/internal/imagegen"
	"github.com/remiges-tech/masstock/internal/logger"
	"github.com/remiges-tech/masstock/internal/metrics"
	"github.com/remiges-tech/masstock/internal/queue"
	"github.com/remiges-tech/masstock/internal/rategate"
	"github.com/remiges-tech/masstock/internal/repo"
)

// App holds every component cmd/api and cmd/worker share. Each cmd builds
// its own process-specific pieces (the gin router, or the worker's fan-out
// loop) on top of this.
type App struct {
	Config  *config.Config
	Logger  *logharbour.Logger
	Metrics *metrics.Prometheus

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Minio *minio.Client

	Repo        repo.ExecutionRepo
	Queue       queue.JobQueue
	Artifacts   artifactstore.ArtifactStore
	RateGate    rategate.RateGate
	ImageGen    imagegen.ImageGenerator
	Credentials *credentials.Resolver
}

// Build constructs every shared component from cfg. module names the
// owning process in log lines ("api" or "worker").
func Build(ctx context.Context, cfg *config.Config, module string) (*App, error) {
	lh := logger.New(module, nil)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	minioClient, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  minioCreds.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("construct minio client: %w", err)
	}
	exists, err := minioClient.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check minio bucket: %w", err)
	}
	if !exists {
		if err := minioClient.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create minio bucket: %w", err)
		}
	}

	promMetrics := metrics.NewPrometheus()
	promMetrics.RegisterWithLabels("rategate_acquired_total", "Counter", "tokens acquired from the rate gate, by model variant", []string{"model"})
	promMetrics.RegisterWithLabels("rategate_wait_total", "Counter", "rate gate waits for the next window, by model variant", []string{"model"})
	promMetrics.RegisterWithLabels("worker_tasks_total", "Counter", "prompt tasks processed by the worker, by terminal outcome", []string{"outcome"})
	promMetrics.RegisterWithLabels("worker_task_errors_total", "Counter", "prompt task errors that didn't fail the batch itself, by stage", []string{"stage"})

	artifactPublicBase := "http://" + cfg.MinioEndpoint
	if cfg.MinioUseSSL {
		artifactPublicBase = "https://" + cfg.MinioEndpoint
	}
	artifacts := artifactstore.NewMinio(minioClient, cfg.MinioBucket, artifactPublicBase)

	var gate rategate.RateGate
	switch cfg.RateGateBackend {
	case "local":
		gate = rategate.NewLocal()
	default:
		gate = rategate.NewRedis(redisClient, promMetrics)
	}
	gate.Configure(domain.ModelFlash, cfg.RateLimitFlash, cfg.RateWindow)
	gate.Configure(domain.ModelPro, cfg.RateLimitPro, cfg.RateWindow)

	executionRepo := repo.NewPostgres(pool)
	credStore := repo.NewCredentialStore(pool)
	credResolver, err := credentials.NewResolver(credStore, cfg.CredentialEncKey, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("construct credential resolver: %w", err)
	}

	jobQueue := queue.NewPostgres(pool, redisClient, lh, queue.BackoffConfig{
		MaxAttempts: cfg.JobMaxAttempts,
		BaseDelay:   cfg.JobBaseDelay,
	})

	return &App{
		Config:      cfg,
		Logger:      lh,
		Metrics:     promMetrics,
		Pool:        pool,
		Redis:       redisClient,
		Minio:       minioClient,
		Repo:        executionRepo,
		Queue:       jobQueue,
		Artifacts:   artifacts,
		RateGate:    gate,
		ImageGen:    imagegen.NewGemini(),
		Credentials: credResolver,
	}, nil
}

// Close releases the pooled store clients. Call during process shutdown.
func (a *App) Close() {
	a.Pool.Close()
	_ = a.Redis.Close()
}
