// Package repo implements C4: transactional persistence of executions and
// batch_results with RLS-aware reads, grounded on alya's jobs.JobManager
// transaction style (pgxpool.Pool, tx.Begin/Commit/Rollback around a
// multi-statement unit of work) generalized from batch-job bookkeeping to
// this subsystem's status DAG.
package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/remiges-tech/masstock/internal/domain"
)

// ExecutionRepo is the persistence contract of spec §4.4. Every read takes
// a domain.Scope (ClientScope or AdminScope); every write is transactional.
type ExecutionRepo interface {
	CreateExecution(ctx context.Context, scope domain.ClientScope, workflowID uuid.UUID, createdByUser uuid.UUID, workflowType domain.WorkflowType, spec domain.InputSpec) (*domain.Execution, error)
	MarkProcessing(ctx context.Context, executionID uuid.UUID) error
	PreCreateBatches(ctx context.Context, executionID uuid.UUID, tasks []domain.PromptTask) error
	WriteBatchResult(ctx context.Context, executionID uuid.UUID, batchIndex int, outcome BatchOutcome) error
	// FinalizeExecution writes summary as the execution's terminal state.
	// errorMessage is persisted on the execution row when non-empty (e.g.
	// the §7 fatal row: a job exhausting JobQueue's retry budget); a normal
	// completion with per-batch errors already recorded in summary.Results
	// passes "".
	FinalizeExecution(ctx context.Context, executionID uuid.UUID, summary domain.OutputSummary, errorMessage string) error
	GetExecution(ctx context.Context, executionID uuid.UUID, scope domain.Scope) (*domain.Execution, error)
	ListBatchResults(ctx context.Context, executionID uuid.UUID, scope domain.Scope) ([]domain.BatchResult, error)
	ListExecutions(ctx context.Context, scope domain.ClientScope, filter domain.ExecutionFilter) (domain.Page[domain.Execution], error)
	ListExecutionsForAdmin(ctx context.Context, filter domain.ExecutionFilter) (domain.Page[domain.Execution], error)

	// WorkflowExists validates that workflowID belongs to clientID, used by
	// ExecuteWorkflow before CreateExecution runs.
	WorkflowExists(ctx context.Context, workflowID uuid.UUID, clientID uuid.UUID) (bool, error)

	// ListWorkflows and GetWorkflow back the read-only /workflows surface;
	// scope follows the same ClientScope/AdminScope split as execution reads.
	ListWorkflows(ctx context.Context, scope domain.Scope) ([]domain.Workflow, error)
	GetWorkflow(ctx context.Context, workflowID uuid.UUID, scope domain.Scope) (*domain.Workflow, error)
}

// BatchOutcome is the terminal state a Worker runner writes for one batch.
type BatchOutcome struct {
	Status           domain.BatchStatus
	ResultURL        string
	StoragePath      string
	ErrorMessage     string
	ProcessingTimeMS int
	APICost          float64
}
