package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow is the client-owned template ExecuteWorkflow runs against.
// Workflow management itself (creation, editing) lives in a separate
// subsystem; this repo only needs enough of the shape to validate
// ownership and answer the read-only /workflows endpoints.
type Workflow struct {
	ID          uuid.UUID `json:"id"`
	ClientID    uuid.UUID `json:"client_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
