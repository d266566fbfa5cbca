package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/domain"
)

// Postgres is the production ExecutionRepo, grounded on alya's
// jobs.JobManager transaction style: a shared *pgxpool.Pool, one
// tx.Begin/Commit/Rollback per logical write, plain SQL rather than an ORM
// (see DESIGN.md for why gorm was dropped in favor of pgx directly).
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) WorkflowExists(ctx context.Context, workflowID, clientID uuid.UUID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM workflows WHERE id = $1 AND client_id = $2)`,
		workflowID, clientID,
	).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "workflow lookup failed", err)
	}
	return exists, nil
}

func (p *Postgres) ListWorkflows(ctx context.Context, scope domain.Scope) ([]domain.Workflow, error) {
	base := `SELECT id, client_id, name, description, created_at FROM workflows`
	var (
		query string
		args  []any
	)
	if cs, ok := scope.(domain.ClientScope); ok {
		query = base + " WHERE client_id = $1 ORDER BY created_at DESC"
		args = []any{cs.ClientID}
	} else {
		query = base + " ORDER BY created_at DESC"
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "workflow list query failed", err)
	}
	defer rows.Close()

	var out []domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		if err := rows.Scan(&wf.ID, &wf.ClientID, &wf.Name, &wf.Description, &wf.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "workflow row scan failed", err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "workflow list iteration failed", err)
	}
	return out, nil
}

func (p *Postgres) GetWorkflow(ctx context.Context, workflowID uuid.UUID, scope domain.Scope) (*domain.Workflow, error) {
	query, args := scopedQuery(`SELECT id, client_id, name, description, created_at FROM workflows WHERE id = $1`, []any{workflowID}, scope)
	var wf domain.Workflow
	err := p.pool.QueryRow(ctx, query, args...).Scan(&wf.ID, &wf.ClientID, &wf.Name, &wf.Description, &wf.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "workflow lookup failed", err)
	}
	return &wf, nil
}

func (p *Postgres) CreateExecution(ctx context.Context, scope domain.ClientScope, workflowID, createdByUser uuid.UUID, workflowType domain.WorkflowType, spec domain.InputSpec) (*domain.Execution, error) {
	raw, err := domain.MarshalInputSpec(spec)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "INVALID_INPUT_SPEC", "input_spec failed to marshal", err)
	}

	var exec domain.Execution
	err = p.pool.QueryRow(ctx, `
		INSERT INTO executions (workflow_id, client_id, created_by_user, workflow_type, status, progress, input_spec)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5)
		RETURNING id, workflow_id, client_id, created_by_user, workflow_type, status, progress, created_at
	`, workflowID, scope.ClientID, createdByUser, string(workflowType), raw).Scan(
		&exec.ID, &exec.WorkflowID, &exec.ClientID, &exec.CreatedByUser, &exec.WorkflowType, &exec.Status, &exec.Progress, &exec.CreatedAt,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to insert execution", err)
	}
	exec.InputSpec = spec
	return &exec, nil
}

// MarkProcessing moves pending -> processing and sets started_at, or
// increments retry_count when the execution is already processing -- a
// second pickup after lease loss, per the §9 open-question decision
// recorded in DESIGN.md.
func (p *Postgres) MarkProcessing(ctx context.Context, executionID uuid.UUID) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		var status domain.ExecutionStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1 FOR UPDATE`, executionID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
			}
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to read execution status", err)
		}

		switch status {
		case domain.StatusPending:
			_, err := tx.Exec(ctx, `UPDATE executions SET status = 'processing', started_at = now() WHERE id = $1`, executionID)
			if err != nil {
				return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to mark processing", err)
			}
			return nil
		case domain.StatusProcessing:
			_, err := tx.Exec(ctx, `UPDATE executions SET retry_count = retry_count + 1 WHERE id = $1`, executionID)
			if err != nil {
				return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to bump retry_count", err)
			}
			return nil
		default:
			return apperr.New(apperr.KindInvalidState, "INVALID_STATE", "cannot mark a terminal execution as processing")
		}
	})
}

func (p *Postgres) PreCreateBatches(ctx context.Context, executionID uuid.UUID, tasks []domain.PromptTask) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM batch_results WHERE execution_id = $1`, executionID).Scan(&count); err != nil {
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to count existing batch_results", err)
		}
		if count > 0 {
			return nil // already pre-created, no-op per §4.6
		}

		batch, err := tx.Prepare(ctx, "precreate", `
			INSERT INTO batch_results (execution_id, batch_index, prompt_text, status)
			VALUES ($1, $2, $3, 'pending')
		`)
		if err != nil {
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to prepare batch insert", err)
		}
		for _, task := range tasks {
			if _, err := tx.Exec(ctx, batch.SQL, executionID, task.BatchIndex, task.PromptText); err != nil {
				return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to insert batch_result", err)
			}
		}
		return nil
	})
}

func (p *Postgres) WriteBatchResult(ctx context.Context, executionID uuid.UUID, batchIndex int, outcome BatchOutcome) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		var current domain.BatchStatus
		err := tx.QueryRow(ctx, `
			SELECT status FROM batch_results WHERE execution_id = $1 AND batch_index = $2 FOR UPDATE
		`, executionID, batchIndex).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			_, err = tx.Exec(ctx, `
				INSERT INTO batch_results (execution_id, batch_index, status)
				VALUES ($1, $2, 'pending')
			`, executionID, batchIndex)
			if err != nil {
				return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to lazily insert batch_result", err)
			}
			current = domain.BatchPending
		} else if err != nil {
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to read batch_result status", err)
		}

		if current == domain.BatchCompleted || current == domain.BatchFailed {
			if current == outcome.Status {
				return nil // idempotent re-write of the same terminal state
			}
			return apperr.New(apperr.KindInvalidState, "ALREADY_TERMINAL", "batch result already has a different terminal state")
		}

		_, err = tx.Exec(ctx, `
			UPDATE batch_results
			SET status = $3, result_url = NULLIF($4, ''), storage_path = NULLIF($5, ''),
			    error_message = NULLIF($6, ''), processing_time_ms = $7, api_cost = $8, completed_at = now()
			WHERE execution_id = $1 AND batch_index = $2
		`, executionID, batchIndex, string(outcome.Status), outcome.ResultURL, outcome.StoragePath, outcome.ErrorMessage, outcome.ProcessingTimeMS, outcome.APICost)
		if err != nil {
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to write batch_result", err)
		}

		var total, completedCount int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM batch_results WHERE execution_id = $1`, executionID).Scan(&total); err != nil {
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to count batch_results", err)
		}
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM batch_results WHERE execution_id = $1 AND status IN ('completed','failed')`, executionID).Scan(&completedCount); err != nil {
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to count terminal batch_results", err)
		}
		if total > 0 {
			progress := completedCount * 100 / total
			if _, err := tx.Exec(ctx, `UPDATE executions SET progress = GREATEST(progress, $2) WHERE id = $1`, executionID, progress); err != nil {
				return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to advance progress", err)
			}
		}
		return nil
	})
}

func (p *Postgres) FinalizeExecution(ctx context.Context, executionID uuid.UUID, summary domain.OutputSummary, errorMessage string) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		var status domain.ExecutionStatus
		var startedAt *time.Time
		if err := tx.QueryRow(ctx, `SELECT status, started_at FROM executions WHERE id = $1 FOR UPDATE`, executionID).Scan(&status, &startedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
			}
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to read execution", err)
		}
		if status == domain.StatusCompleted || status == domain.StatusFailed {
			return nil // FinalizeExecution called twice produces no further mutation.
		}

		final := domain.StatusFailed
		if summary.Completed >= 1 {
			final = domain.StatusCompleted
		}
		raw, err := json.Marshal(summary)
		if err != nil {
			return apperr.Wrap(apperr.KindFatal, "SUMMARY_MARSHAL_FAILED", "output_summary failed to marshal", err)
		}

		var durationSec *int
		if startedAt != nil {
			d := int(time.Since(*startedAt).Seconds())
			durationSec = &d
		}

		_, err = tx.Exec(ctx, `
			UPDATE executions
			SET status = $2, progress = 100, completed_at = now(), duration_seconds = $3, output_summary = $4, error_message = NULLIF($5, '')
			WHERE id = $1
		`, executionID, string(final), durationSec, raw, errorMessage)
		if err != nil {
			return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to finalize execution", err)
		}
		return nil
	})
}

func (p *Postgres) GetExecution(ctx context.Context, executionID uuid.UUID, scope domain.Scope) (*domain.Execution, error) {
	query, args := scopedQuery(`
		SELECT id, workflow_id, client_id, created_by_user, workflow_type, status, progress,
		       input_spec, output_summary, error_message, started_at, completed_at, duration_seconds, retry_count, created_at
		FROM executions WHERE id = $1
	`, []any{executionID}, scope)

	row := p.pool.QueryRow(ctx, query, args...)
	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to read execution", err)
	}
	return exec, nil
}

func (p *Postgres) ListBatchResults(ctx context.Context, executionID uuid.UUID, scope domain.Scope) ([]domain.BatchResult, error) {
	if _, err := p.GetExecution(ctx, executionID, scope); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, execution_id, batch_index, prompt_text, status, result_url, storage_path,
		       error_message, processing_time_ms, api_cost, created_at, completed_at
		FROM batch_results WHERE execution_id = $1 ORDER BY batch_index ASC
	`, executionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to list batch_results", err)
	}
	defer rows.Close()

	var out []domain.BatchResult
	for rows.Next() {
		var b domain.BatchResult
		if err := rows.Scan(&b.ID, &b.ExecutionID, &b.BatchIndex, &b.PromptText, &b.Status, &b.ResultURL, &b.StoragePath,
			&b.ErrorMessage, &b.ProcessingTimeMS, &b.APICost, &b.CreatedAt, &b.CompletedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to scan batch_result", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) ListExecutions(ctx context.Context, scope domain.ClientScope, filter domain.ExecutionFilter) (domain.Page[domain.Execution], error) {
	return p.listExecutions(ctx, filter, &scope.ClientID)
}

func (p *Postgres) ListExecutionsForAdmin(ctx context.Context, filter domain.ExecutionFilter) (domain.Page[domain.Execution], error) {
	return p.listExecutions(ctx, filter, nil)
}

func (p *Postgres) listExecutions(ctx context.Context, filter domain.ExecutionFilter, clientID *uuid.UUID) (domain.Page[domain.Execution], error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset

	where := "WHERE true"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmtPlaceholder(len(args))
	}
	if clientID != nil {
		where += " AND client_id = " + arg(*clientID)
	}
	if filter.WorkflowID != nil {
		where += " AND workflow_id = " + arg(*filter.WorkflowID)
	}
	if filter.UserID != nil {
		where += " AND created_by_user = " + arg(*filter.UserID)
	}
	if filter.Status != nil {
		where += " AND status = " + arg(string(*filter.Status))
	}
	if filter.From != nil {
		where += " AND created_at >= " + arg(*filter.From)
	}
	if filter.To != nil {
		where += " AND created_at <= " + arg(*filter.To)
	}

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM executions "+where, args...).Scan(&total); err != nil {
		return domain.Page[domain.Execution]{}, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to count executions", err)
	}

	pageArgs := append(append([]any{}, args...), limit, offset)
	query := `
		SELECT id, workflow_id, client_id, created_by_user, workflow_type, status, progress,
		       input_spec, output_summary, error_message, started_at, completed_at, duration_seconds, retry_count, created_at
		FROM executions ` + where + ` ORDER BY created_at DESC LIMIT ` + fmtPlaceholder(len(pageArgs)-1) + ` OFFSET ` + fmtPlaceholder(len(pageArgs))

	rows, err := p.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return domain.Page[domain.Execution]{}, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to list executions", err)
	}
	defer rows.Close()

	var items []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return domain.Page[domain.Execution]{}, apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to scan execution", err)
		}
		items = append(items, *exec)
	}
	return domain.NewPage(items, total, limit, offset), rows.Err()
}

func fmtPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func scopedQuery(base string, args []any, scope domain.Scope) (string, []any) {
	if cs, ok := scope.(domain.ClientScope); ok {
		args = append(args, cs.ClientID)
		return base + " AND client_id = $2", args
	}
	return base, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var exec domain.Execution
	var rawInput, rawOutput []byte
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.ClientID, &exec.CreatedByUser, &exec.WorkflowType, &exec.Status, &exec.Progress,
		&rawInput, &rawOutput, &exec.ErrorMessage, &exec.StartedAt, &exec.CompletedAt, &exec.DurationSec, &exec.RetryCount, &exec.CreatedAt); err != nil {
		return nil, err
	}
	if len(rawInput) > 0 {
		spec, err := domain.ParseInputSpec(rawInput)
		if err == nil {
			exec.InputSpec = spec
		}
	}
	if len(rawOutput) > 0 {
		var summary domain.OutputSummary
		if err := json.Unmarshal(rawOutput, &summary); err == nil {
			exec.OutputSummary = &summary
		}
	}
	return &exec, nil
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindTransient, "DB_ERROR", "failed to commit transaction", err)
	}
	return nil
}
