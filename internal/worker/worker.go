// Package worker implements C6: the handler JobQueue.Consume drives for
// one execution end-to-end, following the state machine of spec §4.6
// (MarkProcessing -> expand -> fan out -> aggregate -> FinalizeExecution).
// The bounded-concurrency fan-out is grounded on
// adhtanjung-maukmn-api-alpha's internal/imaging/service.go upload stage
// (errgroup.WithContext + a buffered-channel semaphore), generalized from
// uploading image derivatives to running per-batch prompt tasks.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/artifactstore"
	"github.com/remiges-tech/masstock/internal/credentials"
	"github.com/remiges-tech/masstock/internal/domain"
	"github.com/remiges-tech/masstock/internal/imagegen"
	"github.com/remiges-tech/masstock/internal/metrics"
	"github.com/remiges-tech/masstock/internal/queue"
	"github.com/remiges-tech/masstock/internal/rategate"
	"github.com/remiges-tech/masstock/internal/repo"
)

// geminiProvider is the sole credential provider this subsystem resolves;
// a future second ImageGenerator backend would add a second constant here.
const geminiProvider = "gemini"

// TaskRetries bounds the in-task retry of a single prompt task's
// ImageGenerator/ArtifactStore calls (spec §4.6 step c/d: "retry up to 2
// times").
const TaskRetries = 2

// Concurrency holds the per-model-variant fan-out bound K (spec §4.6).
type Concurrency struct {
	Flash int
	Pro   int
}

func (c Concurrency) forModel(model domain.ModelVariant) int {
	if model == domain.ModelPro {
		if c.Pro > 0 {
			return c.Pro
		}
		return 10
	}
	if c.Flash > 0 {
		return c.Flash
	}
	return 15
}

// Worker processes one execution at a time when invoked as a queue.Handler;
// JobQueue.Consume supplies the outer worker-concurrency W by calling the
// handler from W goroutines concurrently.
type Worker struct {
	repo        repo.ExecutionRepo
	rateGate    rategate.RateGate
	imageGen    imagegen.ImageGenerator
	artifacts   artifactstore.ArtifactStore
	credentials *credentials.Resolver
	metrics     metrics.Metrics
	concurrency Concurrency
}

func New(r repo.ExecutionRepo, rg rategate.RateGate, ig imagegen.ImageGenerator, as artifactstore.ArtifactStore, cr *credentials.Resolver, m metrics.Metrics, concurrency Concurrency) *Worker {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Worker{
		repo:        r,
		rateGate:    rg,
		imageGen:    ig,
		artifacts:   as,
		credentials: cr,
		metrics:     m,
		concurrency: concurrency,
	}
}

// Handle is the queue.Handler entry point.
func (w *Worker) Handle(ctx context.Context, job domain.Job, progressFn func(percent int)) error {
	if err := w.repo.MarkProcessing(ctx, job.ExecutionID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	tasks := job.InputSpec.Tasks()
	if len(tasks) == 0 {
		// spec §4.6: "invalid_input on the entire execution ... produces a
		// fast fail before any queue work." Tasks() only returns empty when
		// Validate() would already have rejected the spec at admission, so
		// reaching this here means the stored spec itself is empty -- treat
		// it as a hard execution failure rather than retrying.
		return w.failFast(ctx, job.ExecutionID, "execution produced zero prompt tasks")
	}

	if err := w.repo.PreCreateBatches(ctx, job.ExecutionID, tasks); err != nil {
		return fmt.Errorf("pre-create batches: %w", err)
	}

	outcomes := w.fanOut(ctx, job, tasks, progressFn)
	if err := ctx.Err(); err != nil {
		// Cancellation: leave the job un-acked. Already-written batch
		// results make the redelivered retry idempotent (spec §4.6).
		return err
	}

	return w.finalize(ctx, job.ExecutionID, outcomes)
}

func (w *Worker) failFast(ctx context.Context, executionID uuid.UUID, reason string) error {
	summary := domain.OutputSummary{Total: 0, Completed: 0, Failed: 0}
	if err := w.repo.FinalizeExecution(ctx, executionID, summary, reason); err != nil {
		return fmt.Errorf("finalize empty execution: %w", err)
	}
	return apperr.New(apperr.KindInvalidState, "EMPTY_EXECUTION", reason)
}

type taskOutcome struct {
	index  int
	url    string
	failed bool
	msg    string
	ms     int
	cost   float64
}

// fanOut spawns a bounded pool of runners reading from tasks and returns
// one outcome per task, index-aligned. A runner's own failure never
// aborts the group -- only ctx cancellation does -- matching spec §4.6's
// "a single prompt failure does NOT fail the execution."
func (w *Worker) fanOut(ctx context.Context, job domain.Job, tasks []domain.PromptTask, progressFn func(int)) []taskOutcome {
	outcomes := make([]taskOutcome, len(tasks))
	total := len(tasks)
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	model := modelVariantOf(tasks)
	sem := make(chan struct{}, w.concurrency.forModel(model))
	var progressMu sync.Mutex

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			outcome := w.runTask(gctx, job, i, task)
			outcomes[i] = outcome

			progressMu.Lock()
			done++
			progressFn(done * 100 / total)
			progressMu.Unlock()
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func modelVariantOf(tasks []domain.PromptTask) domain.ModelVariant {
	if len(tasks) > 0 && tasks[0].ModelVariant != "" {
		return tasks[0].ModelVariant
	}
	return domain.ModelFlash
}

// runTask executes one batch_index end-to-end: idempotency check, rate
// limit, generation (or resize), upload, and the terminal repo write.
func (w *Worker) runTask(ctx context.Context, job domain.Job, index int, task domain.PromptTask) taskOutcome {
	already, err := w.alreadyTerminal(ctx, job.ExecutionID, index)
	if err != nil {
		w.metrics.RecordWithLabels("worker_task_errors_total", 1, "repo_check")
	} else if already {
		return taskOutcome{index: index}
	}

	model := task.ModelVariant
	if model == "" {
		model = domain.ModelFlash
	}

	if err := w.rateGate.Acquire(ctx, model); err != nil {
		return w.writeFailure(ctx, job.ExecutionID, index, "rate gate: "+err.Error())
	}

	bytes, mime, ms, cost, err := w.produce(ctx, job, task, model)
	if err != nil {
		return w.writeFailure(ctx, job.ExecutionID, index, err.Error())
	}

	url, path, err := w.uploadWithRetry(ctx, job.ExecutionID, index, bytes, mime)
	if err != nil {
		return w.writeFailure(ctx, job.ExecutionID, index, err.Error())
	}

	if err := w.repo.WriteBatchResult(ctx, job.ExecutionID, index, repo.BatchOutcome{
		Status:           domain.BatchCompleted,
		ResultURL:        url,
		StoragePath:      path,
		ProcessingTimeMS: ms,
		APICost:          cost,
	}); err != nil {
		w.metrics.RecordWithLabels("worker_task_errors_total", 1, "repo_write")
	}
	w.metrics.RecordWithLabels("worker_tasks_total", 1, "completed")
	return taskOutcome{index: index, url: url, ms: ms, cost: cost}
}

func (w *Worker) alreadyTerminal(ctx context.Context, executionID uuid.UUID, index int) (bool, error) {
	results, err := w.repo.ListBatchResults(ctx, executionID, domain.AdminScope{})
	if err != nil {
		return false, err
	}
	for _, r := range results {
		if r.BatchIndex == index {
			return r.Status == domain.BatchCompleted || r.Status == domain.BatchFailed, nil
		}
	}
	return false, nil
}

// produce dispatches to either ImageGenerator directly, or (smart_resizer)
// through the resize classifier, falling back to ImageGenerator for the
// AI_REGENERATE branch. Generation calls retry retryable failures up to
// TaskRetries times with a short linear backoff, per spec §4.6 step c; the
// local CROP/PADDING resize path does not retry.
func (w *Worker) produce(ctx context.Context, job domain.Job, task domain.PromptTask, model domain.ModelVariant) ([]byte, string, int, float64, error) {
	if job.WorkflowType == domain.WorkflowSmartResizer && task.ResizeFormat != "" {
		return w.produceResize(ctx, job, task)
	}
	return w.produceGeneration(ctx, job, task, model)
}

func (w *Worker) produceResize(ctx context.Context, job domain.Job, task domain.PromptTask) ([]byte, string, int, float64, error) {
	master, err := w.artifacts.Get(ctx, task.MasterImage)
	if err != nil {
		return nil, "", 0, 0, apperr.Wrap(apperr.KindTransient, "MASTER_IMAGE_UNAVAILABLE", "could not read master image", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(master))
	if err != nil {
		return nil, "", 0, 0, apperr.Wrap(apperr.KindInvalidInputUpstream, "MASTER_IMAGE_UNDECODABLE", "could not decode master image", err)
	}

	strategy := imagegen.ClassifyResize(task.ResizeFormat, cfg.Width, cfg.Height)
	if strategy == imagegen.StrategyAIRegenerate {
		return w.produceGeneration(ctx, job, task, domain.ModelFlash)
	}

	start := time.Now()
	out, err := imagegen.Resize(strategy, task.ResizeFormat, master)
	if err != nil {
		return nil, "", 0, 0, apperr.Wrap(apperr.KindInvalidInputUpstream, "RESIZE_FAILED", "resize failed", err)
	}
	return out, "image/jpeg", int(time.Since(start).Milliseconds()), 0, nil
}

func (w *Worker) produceGeneration(ctx context.Context, job domain.Job, task domain.PromptTask, model domain.ModelVariant) ([]byte, string, int, float64, error) {
	cred, err := w.credentials.Resolve(ctx, job.ClientID, geminiProvider)
	if err != nil {
		return nil, "", 0, 0, err
	}

	refs, err := w.resolveReferences(ctx, task.ReferenceImages)
	if err != nil {
		return nil, "", 0, 0, err
	}

	params := imagegen.Params{
		Prompt:          task.PromptText,
		ModelVariant:    model,
		AspectRatio:     task.AspectRatio,
		Size:            task.Size,
		ReferenceImages: refs,
		Credential:      cred,
	}

	var lastErr error
	for attempt := 0; attempt <= TaskRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		result, err := w.imageGen.Generate(ctx, params)
		if err == nil {
			return result.Bytes, result.Mime, result.ProcessingMS, result.Cost, nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			return nil, "", 0, 0, err
		}
	}
	return nil, "", 0, 0, lastErr
}

func (w *Worker) resolveReferences(ctx context.Context, paths []string) ([][]byte, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b, err := w.artifacts.Get(ctx, p)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "REFERENCE_IMAGE_UNAVAILABLE", "could not read reference image", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (w *Worker) uploadWithRetry(ctx context.Context, executionID uuid.UUID, index int, data []byte, mime string) (string, string, error) {
	var lastErr error
	for attempt := 0; attempt <= TaskRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		url, path, err := w.artifacts.PutBatchResult(ctx, executionID, index, data, mime)
		if err == nil {
			return url, path, nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			return "", "", err
		}
	}
	return "", "", lastErr
}

func (w *Worker) writeFailure(ctx context.Context, executionID uuid.UUID, index int, msg string) taskOutcome {
	if err := w.repo.WriteBatchResult(ctx, executionID, index, repo.BatchOutcome{
		Status:       domain.BatchFailed,
		ErrorMessage: msg,
	}); err != nil {
		w.metrics.RecordWithLabels("worker_task_errors_total", 1, "repo_write_failure")
	}
	w.metrics.RecordWithLabels("worker_tasks_total", 1, "failed")
	return taskOutcome{index: index, failed: true, msg: msg}
}

// finalize reads back the terminal batch set (rather than trusting the
// in-memory outcomes slice, which a redelivered retry wouldn't have) and
// calls FinalizeExecution. Safe to call twice for the same execution --
// ExecutionRepo.FinalizeExecution is idempotent on an already-terminal row
// (spec §4.6 aggregation policy).
func (w *Worker) finalize(ctx context.Context, executionID uuid.UUID, _ []taskOutcome) error {
	results, err := w.repo.ListBatchResults(ctx, executionID, domain.AdminScope{})
	if err != nil {
		return fmt.Errorf("list batch results for finalize: %w", err)
	}

	summary := domain.OutputSummary{Total: len(results)}
	var totalMS int
	for _, r := range results {
		ref := domain.BatchResultRef{BatchIndex: r.BatchIndex, Status: string(r.Status)}
		switch r.Status {
		case domain.BatchCompleted:
			summary.Completed++
			summary.TotalCost += r.APICost
			if r.ProcessingTimeMS != nil {
				totalMS += *r.ProcessingTimeMS
			}
			ref.URL = r.ResultURL
		case domain.BatchFailed:
			summary.Failed++
			ref.Error = r.ErrorMessage
		}
		summary.Results = append(summary.Results, ref)
	}
	if summary.Completed > 0 {
		summary.AvgProcessingMS = totalMS / summary.Completed
	}

	return w.repo.FinalizeExecution(ctx, executionID, summary, "")
}

// SweepDeadLetters finalizes the executions behind any job JobQueue has
// moved to its dead state. Consume never calls Handle again for a dead
// job, so without this an execution whose job exhausts max_attempts would
// sit in pending/processing forever; spec §7's fatal row requires it be
// finalized failed with error_message instead. Safe to call repeatedly
// since FinalizeExecution no-ops on an already-terminal execution.
func (w *Worker) SweepDeadLetters(ctx context.Context, q queue.JobQueue) error {
	dead, err := q.DeadLetters(ctx)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	for _, job := range dead {
		msg := job.LastError
		if msg == "" {
			msg = "job exhausted max_attempts"
		}
		if err := w.repo.FinalizeExecution(ctx, job.ExecutionID, domain.OutputSummary{}, msg); err != nil {
			w.metrics.RecordWithLabels("worker_task_errors_total", 1, "dead_letter_finalize")
		}
	}
	return nil
}
