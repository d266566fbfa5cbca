package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/remiges-tech/masstock/internal/domain"
)

const (
	heartbeatTTL      = 60 * time.Second
	heartbeatInterval = 30 * time.Second
	recoveryInterval  = 60 * time.Second
	leasedJobsTTL     = 3 * heartbeatTTL
)

// Postgres is the production JobQueue: jobs live in the `jobs` table
// (status ready/leased/dead); Redis tracks which jobs each worker instance
// currently holds so a dead worker's leases can be recovered without
// waiting on a fixed visibility timeout.
type Postgres struct {
	pool        *pgxpool.Pool
	redisClient *redis.Client
	logger      *logharbour.Logger
	config      BackoffConfig
	instanceID  string
}

func NewPostgres(pool *pgxpool.Pool, redisClient *redis.Client, logger *logharbour.Logger, config BackoffConfig) *Postgres {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay == 0 {
		config.BaseDelay = 2 * time.Second
	}
	return &Postgres{
		pool:        pool,
		redisClient: redisClient,
		logger:      logger,
		config:      config,
		instanceID:  uuid.NewString(),
	}
}

func (p *Postgres) Enqueue(ctx context.Context, job domain.Job) (string, error) {
	raw, err := domain.MarshalInputSpec(job.InputSpec)
	if err != nil {
		return "", fmt.Errorf("marshal input_spec: %w", err)
	}

	var id int64
	err = p.pool.QueryRow(ctx, `
		INSERT INTO jobs (execution_id, workflow_id, client_id, user_id, workflow_type, input_spec, reference_assets)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, job.ExecutionID, job.WorkflowID, job.ClientID, job.UserID, string(job.WorkflowType), raw, job.ReferenceAssets).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return fmt.Sprintf("%d", id), nil
}

func (p *Postgres) DeadLetters(ctx context.Context) ([]domain.Job, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, execution_id, workflow_id, client_id, user_id, workflow_type, input_spec, reference_assets, attempts_so_far, COALESCE(last_error, '')
		FROM jobs WHERE status = 'dead' ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (domain.Job, error) {
	var j domain.Job
	var id int64
	var workflowType string
	var rawInput []byte
	if err := row.Scan(&id, &j.ExecutionID, &j.WorkflowID, &j.ClientID, &j.UserID, &workflowType, &rawInput, &j.ReferenceAssets, &j.AttemptsSoFar, &j.LastError); err != nil {
		return domain.Job{}, fmt.Errorf("scan job: %w", err)
	}
	j.ID = fmt.Sprintf("%d", id)
	j.WorkflowType = domain.WorkflowType(workflowType)
	spec, err := domain.ParseInputSpec(rawInput)
	if err != nil {
		return domain.Job{}, fmt.Errorf("parse input_spec for job %d: %w", id, err)
	}
	j.InputSpec = spec
	return j, nil
}

// Consume spawns concurrency consumers, each polling for a ready job via
// SELECT ... FOR UPDATE SKIP LOCKED (so multiple consumers never contend
// for the same row), then running handler. Blocks until ctx cancels.
func (p *Postgres) Consume(ctx context.Context, handler Handler, concurrency int) error {
	p.registerWorker(context.Background())
	go p.runHeartbeat(ctx)
	go p.runRecovery(ctx)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consumeLoop(ctx, handler)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Postgres) consumeLoop(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processOne(ctx, handler)
		}
	}
}

func (p *Postgres) processOne(ctx context.Context, handler Handler) {
	job, id, found, err := p.lease(ctx)
	if err != nil {
		p.logger.Error(err).LogActivity("failed to lease job", nil)
		return
	}
	if !found {
		return
	}

	if err := p.trackLeasedJob(context.Background(), id); err != nil {
		p.logger.Warn().LogActivity("failed to track leased job in redis", map[string]any{"job_id": id})
	}
	defer p.untrackLeasedJob(id)

	// progressFn is a no-op at the queue layer -- the worker reports
	// execution-level progress straight to ExecutionRepo; the jobs table
	// only tracks delivery state, not percent-complete.
	progressFn := func(percent int) {}

	handlerErr := handler(ctx, job, progressFn)
	if handlerErr == nil {
		p.ack(context.Background(), id)
		return
	}
	p.reschedule(context.Background(), id, job.AttemptsSoFar, handlerErr)
}

func (p *Postgres) lease(ctx context.Context) (domain.Job, int64, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Job{}, 0, false, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, execution_id, workflow_id, client_id, user_id, workflow_type, input_spec, reference_assets, attempts_so_far, COALESCE(last_error, '')
		FROM jobs
		WHERE status = 'ready' AND available_at <= now()
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, 0, false, nil
	}
	if err != nil {
		return domain.Job{}, 0, false, err
	}
	id := mustParseID(job.ID)

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'leased', leased_by = $2, attempts_so_far = attempts_so_far + 1 WHERE id = $1
	`, id, p.instanceID); err != nil {
		return domain.Job{}, 0, false, err
	}
	job.AttemptsSoFar++

	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, 0, false, err
	}
	return job, id, true, nil
}

func (p *Postgres) ack(ctx context.Context, id int64) {
	if _, err := p.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		p.logger.Error(err).LogActivity("failed to ack job", map[string]any{"job_id": id})
	}
}

// reschedule implements the §4.2 backoff: delay = base * 2^attempts,
// unless attempts has reached max_attempts, in which case the job moves to
// the dead state instead of being retried again.
func (p *Postgres) reschedule(ctx context.Context, id int64, attemptsSoFar int, cause error) {
	if attemptsSoFar >= p.config.MaxAttempts {
		if _, err := p.pool.Exec(ctx, `UPDATE jobs SET status = 'dead', last_error = $2 WHERE id = $1`, id, cause.Error()); err != nil {
			p.logger.Error(err).LogActivity("failed to move job to dead state", map[string]any{"job_id": id})
		}
		return
	}
	delay := time.Duration(float64(p.config.BaseDelay) * math.Pow(2, float64(attemptsSoFar)))
	if _, err := p.pool.Exec(ctx, `
		UPDATE jobs SET status = 'ready', available_at = now() + $2 * interval '1 millisecond', last_error = $3
		WHERE id = $1
	`, id, delay.Milliseconds(), cause.Error()); err != nil {
		p.logger.Error(err).LogActivity("failed to reschedule job", map[string]any{"job_id": id})
	}
}

func mustParseID(s string) int64 {
	var id int64
	fmt.Sscanf(s, "%d", &id)
	return id
}
