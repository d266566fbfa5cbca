package repo

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/domain"
)

func setup(t *testing.T) (*Fake, uuid.UUID, uuid.UUID) {
	t.Helper()
	f := NewFake()
	clientID := uuid.New()
	workflowID := uuid.New()
	f.RegisterWorkflow(workflowID, clientID)
	return f, clientID, workflowID
}

func TestCreateExecution_StartsPending(t *testing.T) {
	f, clientID, workflowID := setup(t)
	spec := &domain.StandardSpec{Prompt: "a cat"}

	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, spec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, exec.Status)
	assert.Equal(t, 0, exec.Progress)
}

func TestMarkProcessing_IdempotentAndIncrementsRetryOnSecondPickup(t *testing.T) {
	f, clientID, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)

	require.NoError(t, f.MarkProcessing(context.Background(), exec.ID))
	require.NoError(t, f.MarkProcessing(context.Background(), exec.ID))

	got, err := f.GetExecution(context.Background(), exec.ID, domain.AdminScope{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestWriteBatchResult_SecondDifferingTerminalWriteRejected(t *testing.T) {
	f, clientID, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, f.PreCreateBatches(context.Background(), exec.ID, []domain.PromptTask{{BatchIndex: 0}}))

	require.NoError(t, f.WriteBatchResult(context.Background(), exec.ID, 0, BatchOutcome{Status: domain.BatchCompleted, ResultURL: "https://x/a"}))
	err = f.WriteBatchResult(context.Background(), exec.ID, 0, BatchOutcome{Status: domain.BatchFailed})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
}

func TestWriteBatchResult_SameTerminalWriteIsNoOp(t *testing.T) {
	f, clientID, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, f.PreCreateBatches(context.Background(), exec.ID, []domain.PromptTask{{BatchIndex: 0}}))

	require.NoError(t, f.WriteBatchResult(context.Background(), exec.ID, 0, BatchOutcome{Status: domain.BatchCompleted, ResultURL: "https://x/a"}))
	require.NoError(t, f.WriteBatchResult(context.Background(), exec.ID, 0, BatchOutcome{Status: domain.BatchCompleted, ResultURL: "https://x/a"}))
}

func TestFinalizeExecution_CompletedWithAtLeastOneSuccess(t *testing.T) {
	f, clientID, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowNanoBanana, &domain.NanoBananaSpec{Prompts: []string{"a", "b"}})
	require.NoError(t, err)
	require.NoError(t, f.MarkProcessing(context.Background(), exec.ID))

	require.NoError(t, f.FinalizeExecution(context.Background(), exec.ID, domain.OutputSummary{Total: 2, Completed: 1, Failed: 1}, ""))

	got, err := f.GetExecution(context.Background(), exec.ID, domain.AdminScope{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
}

func TestFinalizeExecution_FailedWhenZeroSucceeded(t *testing.T) {
	f, clientID, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)

	require.NoError(t, f.FinalizeExecution(context.Background(), exec.ID, domain.OutputSummary{Total: 1, Completed: 0, Failed: 1}, ""))

	got, err := f.GetExecution(context.Background(), exec.ID, domain.AdminScope{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestFinalizeExecution_SetsErrorMessageOnFatalFailure(t *testing.T) {
	f, clientID, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)

	require.NoError(t, f.FinalizeExecution(context.Background(), exec.ID, domain.OutputSummary{}, "job exhausted max_attempts"))

	got, err := f.GetExecution(context.Background(), exec.ID, domain.AdminScope{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "job exhausted max_attempts", *got.ErrorMessage)
}

func TestFinalizeExecution_CalledTwiceIsNoOp(t *testing.T) {
	f, clientID, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)

	require.NoError(t, f.FinalizeExecution(context.Background(), exec.ID, domain.OutputSummary{Total: 1, Completed: 1}, ""))
	first, err := f.GetExecution(context.Background(), exec.ID, domain.AdminScope{})
	require.NoError(t, err)

	require.NoError(t, f.FinalizeExecution(context.Background(), exec.ID, domain.OutputSummary{Total: 1, Completed: 0, Failed: 1}, ""))
	second, err := f.GetExecution(context.Background(), exec.ID, domain.AdminScope{})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.OutputSummary.Completed, second.OutputSummary.Completed)
}

func TestGetExecution_TenantIsolation(t *testing.T) {
	f, clientA, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientA}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)

	clientB := uuid.New()
	_, err = f.GetExecution(context.Background(), exec.ID, domain.ClientScope{ClientID: clientB})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	got, err := f.GetExecution(context.Background(), exec.ID, domain.AdminScope{})
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)
}

func TestListExecutions_Pagination(t *testing.T) {
	f, clientID, workflowID := setup(t)
	for i := 0; i < 5; i++ {
		_, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
		require.NoError(t, err)
	}

	page, err := f.ListExecutions(context.Background(), domain.ClientScope{ClientID: clientID}, domain.ExecutionFilter{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)
}

func TestPreCreateBatches_NoOpWhenAlreadyPresent(t *testing.T) {
	f, clientID, workflowID := setup(t)
	exec, err := f.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowNanoBanana, &domain.NanoBananaSpec{Prompts: []string{"a", "b"}})
	require.NoError(t, err)

	require.NoError(t, f.PreCreateBatches(context.Background(), exec.ID, []domain.PromptTask{{BatchIndex: 0}, {BatchIndex: 1}}))
	require.NoError(t, f.PreCreateBatches(context.Background(), exec.ID, []domain.PromptTask{{BatchIndex: 0}, {BatchIndex: 1}, {BatchIndex: 2}}))

	results, err := f.ListBatchResults(context.Background(), exec.ID, domain.AdminScope{})
	require.NoError(t, err)
	assert.Len(t, results, 2, "second PreCreateBatches call must be a no-op")
}
