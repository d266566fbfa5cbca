package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/domain"
)

// Fake is an in-memory ExecutionRepo enforcing the same invariants as the
// Postgres implementation (status DAG, idempotent terminal writes,
// monotonic progress, RLS-style scoping), used by worker and api tests
// that don't need a real database.
type Fake struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*domain.Execution
	batches    map[uuid.UUID]map[int]*domain.BatchResult
	workflows  map[uuid.UUID]domain.Workflow
}

func NewFake() *Fake {
	return &Fake{
		executions: make(map[uuid.UUID]*domain.Execution),
		batches:    make(map[uuid.UUID]map[int]*domain.BatchResult),
		workflows:  make(map[uuid.UUID]domain.Workflow),
	}
}

// RegisterWorkflow lets tests declare that workflowID belongs to clientID.
func (f *Fake) RegisterWorkflow(workflowID, clientID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[workflowID] = domain.Workflow{
		ID:        workflowID,
		ClientID:  clientID,
		Name:      "workflow-" + workflowID.String()[:8],
		CreatedAt: time.Now(),
	}
}

func (f *Fake) WorkflowExists(_ context.Context, workflowID, clientID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[workflowID]
	return ok && wf.ClientID == clientID, nil
}

func (f *Fake) ListWorkflows(_ context.Context, scope domain.Scope) ([]domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Workflow, 0, len(f.workflows))
	for _, wf := range f.workflows {
		if visible(wf.ClientID, scope) {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (f *Fake) GetWorkflow(_ context.Context, workflowID uuid.UUID, scope domain.Scope) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[workflowID]
	if !ok || !visible(wf.ClientID, scope) {
		return nil, apperr.New(apperr.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow not found")
	}
	cp := wf
	return &cp, nil
}

func (f *Fake) CreateExecution(_ context.Context, scope domain.ClientScope, workflowID, createdByUser uuid.UUID, workflowType domain.WorkflowType, spec domain.InputSpec) (*domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	exec := &domain.Execution{
		ID:            uuid.New(),
		WorkflowID:    workflowID,
		ClientID:      scope.ClientID,
		CreatedByUser: createdByUser,
		WorkflowType:  workflowType,
		Status:        domain.StatusPending,
		Progress:      0,
		InputSpec:     spec,
		CreatedAt:     time.Now(),
	}
	f.executions[exec.ID] = exec
	f.batches[exec.ID] = make(map[int]*domain.BatchResult)
	cp := *exec
	return &cp, nil
}

func (f *Fake) MarkProcessing(_ context.Context, executionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exec, ok := f.executions[executionID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
	}
	switch exec.Status {
	case domain.StatusPending:
		exec.Status = domain.StatusProcessing
		now := time.Now()
		exec.StartedAt = &now
	case domain.StatusProcessing:
		// Idempotent: a redelivered job re-marks an already-processing
		// execution; §9's open question resolves retry_count to increment
		// only here, on a genuine second pickup.
		exec.RetryCount++
	default:
		return apperr.New(apperr.KindInvalidState, "INVALID_STATE", "cannot mark a terminal execution as processing")
	}
	return nil
}

func (f *Fake) PreCreateBatches(_ context.Context, executionID uuid.UUID, tasks []domain.PromptTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.batches[executionID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
	}
	if len(existing) > 0 {
		return nil // already pre-created, no-op per §4.6
	}
	for _, task := range tasks {
		existing[task.BatchIndex] = &domain.BatchResult{
			ID:          uuid.New(),
			ExecutionID: executionID,
			BatchIndex:  task.BatchIndex,
			PromptText:  task.PromptText,
			Status:      domain.BatchPending,
			CreatedAt:   time.Now(),
		}
	}
	return nil
}

func (f *Fake) WriteBatchResult(_ context.Context, executionID uuid.UUID, batchIndex int, outcome BatchOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	batches, ok := f.batches[executionID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
	}
	b, ok := batches[batchIndex]
	if !ok {
		b = &domain.BatchResult{ID: uuid.New(), ExecutionID: executionID, BatchIndex: batchIndex, CreatedAt: time.Now()}
		batches[batchIndex] = b
	}

	if isTerminal(b.Status) {
		if b.Status == outcome.Status {
			return nil // idempotent re-write of the same terminal state
		}
		return apperr.New(apperr.KindInvalidState, "ALREADY_TERMINAL", "batch result already has a different terminal state")
	}

	b.Status = outcome.Status
	if outcome.ResultURL != "" {
		url := outcome.ResultURL
		b.ResultURL = &url
	}
	if outcome.StoragePath != "" {
		path := outcome.StoragePath
		b.StoragePath = &path
	}
	if outcome.ErrorMessage != "" {
		msg := outcome.ErrorMessage
		b.ErrorMessage = &msg
	}
	ms := outcome.ProcessingTimeMS
	b.ProcessingTimeMS = &ms
	b.APICost = outcome.APICost
	now := time.Now()
	b.CompletedAt = &now

	exec, ok := f.executions[executionID]
	if ok {
		total := len(batches)
		completedCount := 0
		for _, other := range batches {
			if isTerminal(other.Status) {
				completedCount++
			}
		}
		if total > 0 {
			progress := completedCount * 100 / total
			if progress > exec.Progress {
				exec.Progress = progress
			}
		}
	}
	return nil
}

func isTerminal(s domain.BatchStatus) bool {
	return s == domain.BatchCompleted || s == domain.BatchFailed
}

func (f *Fake) FinalizeExecution(_ context.Context, executionID uuid.UUID, summary domain.OutputSummary, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exec, ok := f.executions[executionID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
	}
	if exec.Status == domain.StatusCompleted || exec.Status == domain.StatusFailed {
		return nil // FinalizeExecution called twice produces no further mutation (spec §8).
	}

	status := domain.StatusFailed
	if summary.Completed >= 1 {
		status = domain.StatusCompleted
	}
	exec.Status = status
	exec.Progress = 100
	now := time.Now()
	exec.CompletedAt = &now
	if exec.StartedAt != nil {
		d := int(now.Sub(*exec.StartedAt).Seconds())
		exec.DurationSec = &d
	}
	if errorMessage != "" {
		msg := errorMessage
		exec.ErrorMessage = &msg
	}
	cp := summary
	exec.OutputSummary = &cp
	return nil
}

func (f *Fake) GetExecution(_ context.Context, executionID uuid.UUID, scope domain.Scope) (*domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	exec, ok := f.executions[executionID]
	if !ok || !visible(exec.ClientID, scope) {
		return nil, apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
	}
	cp := *exec
	return &cp, nil
}

func (f *Fake) ListBatchResults(_ context.Context, executionID uuid.UUID, scope domain.Scope) ([]domain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	exec, ok := f.executions[executionID]
	if !ok || !visible(exec.ClientID, scope) {
		return nil, apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found")
	}
	batches := f.batches[executionID]
	out := make([]domain.BatchResult, 0, len(batches))
	for i := 0; i < len(batches); i++ {
		if b, ok := batches[i]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *Fake) ListExecutions(_ context.Context, scope domain.ClientScope, filter domain.ExecutionFilter) (domain.Page[domain.Execution], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listFiltered(filter, func(e *domain.Execution) bool { return e.ClientID == scope.ClientID }), nil
}

func (f *Fake) ListExecutionsForAdmin(_ context.Context, filter domain.ExecutionFilter) (domain.Page[domain.Execution], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listFiltered(filter, func(*domain.Execution) bool { return true }), nil
}

func (f *Fake) listFiltered(filter domain.ExecutionFilter, keep func(*domain.Execution) bool) domain.Page[domain.Execution] {
	matched := make([]domain.Execution, 0)
	for _, e := range f.executions {
		if !keep(e) {
			continue
		}
		if filter.WorkflowID != nil && e.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.UserID != nil && e.CreatedByUser != *filter.UserID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, *e)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	total := len(matched)

	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := matched[offset:end]
	return domain.NewPage(page, total, limit, offset)
}

func visible(owner uuid.UUID, scope domain.Scope) bool {
	switch s := scope.(type) {
	case domain.AdminScope:
		return true
	case domain.ClientScope:
		return s.ClientID == owner
	default:
		return false
	}
}
