// Package domain holds the core types shared by every component:
// Execution, BatchResult, Job, and the tagged-union workflow input/output
// payloads. These are plain structs, not tied to pgx or gin, so
// internal/repo, internal/worker and internal/api all import this package
// rather than each other.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the status DAG enforced by ExecutionRepo:
// pending -> processing -> {completed, failed}. A redelivered job finds its
// execution already processing; it stays processing (MarkProcessing bumps
// retry_count) and never moves back to pending.
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "pending"
	StatusProcessing ExecutionStatus = "processing"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
)

// Scan lets pgx read the execution_status Postgres enum directly into
// ExecutionStatus, the same pattern alya's batchsqlc.StatusEnum uses for
// its own status enum.
func (s *ExecutionStatus) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*s = ExecutionStatus(v)
	case string:
		*s = ExecutionStatus(v)
	default:
		return fmt.Errorf("unsupported scan type for ExecutionStatus: %T", src)
	}
	return nil
}

// BatchStatus is the terminal-once status of one BatchResult row.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Scan lets pgx read the batch_status Postgres enum directly into
// BatchStatus.
func (s *BatchStatus) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*s = BatchStatus(v)
	case string:
		*s = BatchStatus(v)
	default:
		return fmt.Errorf("unsupported scan type for BatchStatus: %T", src)
	}
	return nil
}

// WorkflowType discriminates the tagged-union input_spec/output_summary
// payloads and selects the Worker's dispatch pipeline.
type WorkflowType string

const (
	WorkflowNanoBanana     WorkflowType = "nano_banana"
	WorkflowStandard       WorkflowType = "standard"
	WorkflowSmartResizer   WorkflowType = "smart_resizer"
	WorkflowRoomRedesigner WorkflowType = "room_redesigner"
)

// Scan lets pgx read the workflow_type text column directly into WorkflowType.
func (s *WorkflowType) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*s = WorkflowType(v)
	case string:
		*s = WorkflowType(v)
	default:
		return fmt.Errorf("unsupported scan type for WorkflowType: %T", src)
	}
	return nil
}

// ModelVariant selects the RateGate bucket and ImageGenerator backend.
type ModelVariant string

const (
	ModelFlash ModelVariant = "flash"
	ModelPro   ModelVariant = "pro"
)

// Execution is one client-triggered workflow run, tracked end-to-end. JSON
// tags follow the persisted_state column names spec §6 names, so the API
// layer can serialize it directly rather than mapping into a parallel DTO.
type Execution struct {
	ID            uuid.UUID       `json:"id"`
	WorkflowID    uuid.UUID       `json:"workflow_id"`
	ClientID      uuid.UUID       `json:"client_id"`
	CreatedByUser uuid.UUID       `json:"created_by_user"`
	WorkflowType  WorkflowType    `json:"workflow_type"`
	Status        ExecutionStatus `json:"status"`
	Progress      int             `json:"progress"`
	InputSpec     InputSpec       `json:"input_spec,omitempty"`
	OutputSummary *OutputSummary  `json:"output_summary,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	DurationSec   *int            `json:"duration_seconds,omitempty"`
	RetryCount    int             `json:"retry_count"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BatchResult is one prompt-task's outcome within an Execution.
type BatchResult struct {
	ID               uuid.UUID   `json:"id"`
	ExecutionID      uuid.UUID   `json:"execution_id"`
	BatchIndex       int         `json:"batch_index"`
	PromptText       string      `json:"prompt_text"`
	Status           BatchStatus `json:"status"`
	ResultURL        *string     `json:"result_url,omitempty"`
	StoragePath      *string     `json:"storage_path,omitempty"`
	ErrorMessage     *string     `json:"error_message,omitempty"`
	ProcessingTimeMS *int        `json:"processing_time_ms,omitempty"`
	APICost          float64     `json:"api_cost"`
	CreatedAt        time.Time   `json:"created_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// OutputSummary is written once, at FinalizeExecution.
type OutputSummary struct {
	Total           int              `json:"total"`
	Completed       int              `json:"completed"`
	Failed          int              `json:"failed"`
	Results         []BatchResultRef `json:"results"`
	TotalCost       float64          `json:"total_cost"`
	AvgProcessingMS int              `json:"avg_processing_ms"`
}

// BatchResultRef is the per-batch entry inside OutputSummary.Results.
type BatchResultRef struct {
	BatchIndex int     `json:"batch_index"`
	Status     string  `json:"status"`
	URL        *string `json:"url,omitempty"`
	Error      *string `json:"error,omitempty"`
}

// Job is the transient JobQueue record dispatched to a Worker.
type Job struct {
	ID              string
	ExecutionID     uuid.UUID
	WorkflowID      uuid.UUID
	ClientID        uuid.UUID
	UserID          uuid.UUID
	WorkflowType    WorkflowType
	InputSpec       InputSpec
	ReferenceAssets []string
	AttemptsSoFar   int
	// LastError is the error recorded on the job's most recent failed
	// delivery. Only populated once a delivery has actually failed; empty
	// on a job's first attempt.
	LastError string
}

// ClientScope restricts ExecutionRepo reads to rows a single client owns.
// AdminScope bypasses that filter entirely. Both implement Scope so repo
// methods take one parameter regardless of caller.
type Scope interface {
	isScope()
}

type ClientScope struct {
	ClientID uuid.UUID
}

func (ClientScope) isScope() {}

type AdminScope struct{}

func (AdminScope) isScope() {}

// ExecutionFilter parameterizes ListExecutions/ListExecutionsForAdmin.
type ExecutionFilter struct {
	WorkflowID *uuid.UUID
	UserID     *uuid.UUID
	Status     *ExecutionStatus
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Page wraps a slice of results with the pagination envelope spec §6 asks for.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func NewPage[T any](items []T, total, limit, offset int) Page[T] {
	return Page[T]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	}
}
