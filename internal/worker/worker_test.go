package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/masstock/internal/artifactstore"
	"github.com/remiges-tech/masstock/internal/credentials"
	"github.com/remiges-tech/masstock/internal/domain"
	"github.com/remiges-tech/masstock/internal/imagegen"
	"github.com/remiges-tech/masstock/internal/metrics"
	"github.com/remiges-tech/masstock/internal/queue"
	"github.com/remiges-tech/masstock/internal/rategate"
	"github.com/remiges-tech/masstock/internal/repo"
)

const testEncKey = "0123456789abcdef0123456789abcdef"

func newHarness(t *testing.T) (*Worker, *repo.Fake, *imagegen.Fake, *artifactstore.Fake) {
	t.Helper()
	r := repo.NewFake()
	rg := rategate.NewLocal()
	ig := imagegen.NewFake()
	as := artifactstore.NewFake()
	store := credentials.NewFakeStore()
	resolver, err := credentials.NewResolver(store, testEncKey, "process-wide-fallback-key")
	require.NoError(t, err)

	w := New(r, rg, ig, as, resolver, metrics.Noop{}, Concurrency{Flash: 4, Pro: 4})
	return w, r, ig, as
}

func standardJob(clientID, workflowID, execID uuid.UUID, prompt string) domain.Job {
	spec := &domain.StandardSpec{Prompt: prompt, ModelVariant: domain.ModelFlash}
	return domain.Job{
		ExecutionID:  execID,
		WorkflowID:   workflowID,
		ClientID:     clientID,
		UserID:       uuid.New(),
		WorkflowType: domain.WorkflowStandard,
		InputSpec:    spec,
	}
}

func TestHandle_StandardWorkflow_CompletesOnSuccess(t *testing.T) {
	w, r, _, _ := newHarness(t)
	clientID, workflowID := uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)
	exec, err := r.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "a cat", ModelVariant: domain.ModelFlash})
	require.NoError(t, err)

	job := standardJob(clientID, workflowID, exec.ID, "a cat")

	var lastProgress int
	err = w.Handle(context.Background(), job, func(p int) { lastProgress = p })
	require.NoError(t, err)
	assert.Equal(t, 100, lastProgress)

	got, err := r.GetExecution(context.Background(), exec.ID, domain.ClientScope{ClientID: clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.OutputSummary)
	assert.Equal(t, 1, got.OutputSummary.Completed)
	assert.Equal(t, 0, got.OutputSummary.Failed)
}

func TestHandle_NanoBanana_PartialFailureStillCompletes(t *testing.T) {
	w, r, ig, _ := newHarness(t)
	clientID, workflowID := uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)

	spec := &domain.NanoBananaSpec{Prompts: []string{"ok", "bad", "ok2"}, ModelVariant: domain.ModelFlash}
	exec, err := r.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowNanoBanana, spec)
	require.NoError(t, err)

	ig.GenerateFunc = func(ctx context.Context, p imagegen.Params) (imagegen.Result, error) {
		if p.Prompt == "bad" {
			return imagegen.Result{}, assert.AnError
		}
		return imagegen.Result{Bytes: []byte("img"), Mime: "image/png", ProcessingMS: 10, Cost: 0.02}, nil
	}

	job := domain.Job{ExecutionID: exec.ID, WorkflowID: workflowID, ClientID: clientID, UserID: uuid.New(), WorkflowType: domain.WorkflowNanoBanana, InputSpec: spec}
	err = w.Handle(context.Background(), job, func(int) {})
	require.NoError(t, err)

	got, err := r.GetExecution(context.Background(), exec.ID, domain.ClientScope{ClientID: clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.OutputSummary.Completed)
	assert.Equal(t, 1, got.OutputSummary.Failed)
}

func TestHandle_AllTasksFail_ExecutionFails(t *testing.T) {
	w, r, ig, _ := newHarness(t)
	clientID, workflowID := uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)

	spec := &domain.StandardSpec{Prompt: "x", ModelVariant: domain.ModelFlash}
	exec, err := r.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, spec)
	require.NoError(t, err)

	ig.GenerateFunc = func(ctx context.Context, p imagegen.Params) (imagegen.Result, error) {
		return imagegen.Result{}, assert.AnError
	}

	job := domain.Job{ExecutionID: exec.ID, WorkflowID: workflowID, ClientID: clientID, UserID: uuid.New(), WorkflowType: domain.WorkflowStandard, InputSpec: spec}
	err = w.Handle(context.Background(), job, func(int) {})
	require.NoError(t, err)

	got, err := r.GetExecution(context.Background(), exec.ID, domain.ClientScope{ClientID: clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestHandle_RedeliveredJobSkipsAlreadyTerminalBatches(t *testing.T) {
	w, r, ig, _ := newHarness(t)
	clientID, workflowID := uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)

	spec := &domain.NanoBananaSpec{Prompts: []string{"one", "two"}, ModelVariant: domain.ModelFlash}
	exec, err := r.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowNanoBanana, spec)
	require.NoError(t, err)

	// Simulate a prior, partially-completed attempt: batch_index 0 already
	// wrote a terminal result before the worker lost its lease.
	require.NoError(t, r.PreCreateBatches(context.Background(), exec.ID, spec.Tasks()))
	require.NoError(t, r.WriteBatchResult(context.Background(), exec.ID, 0, repo.BatchOutcome{
		Status:    domain.BatchCompleted,
		ResultURL: "https://fake.local/existing",
	}))

	job := domain.Job{ExecutionID: exec.ID, WorkflowID: workflowID, ClientID: clientID, UserID: uuid.New(), WorkflowType: domain.WorkflowNanoBanana, InputSpec: spec}

	calls := 0
	ig.GenerateFunc = func(ctx context.Context, p imagegen.Params) (imagegen.Result, error) {
		calls++
		return imagegen.Result{Bytes: []byte("img"), Mime: "image/png", ProcessingMS: 5, Cost: 0.01}, nil
	}

	require.NoError(t, w.Handle(context.Background(), job, func(int) {}))
	assert.Equal(t, 1, calls, "already-terminal batch_index 0 must not be regenerated")

	got, err := r.GetExecution(context.Background(), exec.ID, domain.ClientScope{ClientID: clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.OutputSummary.Completed)
}

func TestSweepDeadLetters_FinalizesStuckExecutionAsFailed(t *testing.T) {
	w, r, _, _ := newHarness(t)
	clientID, workflowID := uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)

	spec := &domain.StandardSpec{Prompt: "x", ModelVariant: domain.ModelFlash}
	exec, err := r.CreateExecution(context.Background(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, spec)
	require.NoError(t, err)
	require.NoError(t, r.MarkProcessing(context.Background(), exec.ID))

	q := queue.NewFake()
	q.MaxAttempts = 1
	_, err = q.Enqueue(context.Background(), domain.Job{ExecutionID: exec.ID, WorkflowType: domain.WorkflowStandard})
	require.NoError(t, err)
	require.NoError(t, q.Consume(context.Background(), func(context.Context, domain.Job, func(int)) error {
		return assert.AnError
	}, 1))
	dead, err := q.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)

	require.NoError(t, w.SweepDeadLetters(context.Background(), q))

	got, err := r.GetExecution(context.Background(), exec.ID, domain.ClientScope{ClientID: clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, assert.AnError.Error(), *got.ErrorMessage)
}

func TestSweepDeadLetters_NoDeadLettersIsNoOp(t *testing.T) {
	w, _, _, _ := newHarness(t)
	q := queue.NewFake()
	require.NoError(t, w.SweepDeadLetters(context.Background(), q))
}
