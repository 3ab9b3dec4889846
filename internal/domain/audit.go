package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only record of a pipeline stage transition.
// Entries are never updated or deleted; ordering is insertion order.
type AuditEntry struct {
	ID        int64          `json:"id"`
	SubjectID uuid.UUID      `json:"subject_id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit action names recorded by the pipeline stages.
const (
	AuditFileUploaded        = "file_uploaded"
	AuditValidationCompleted = "validation_completed"
	AuditReconcilePerformed  = "reconciliation_completed"
	AuditDecisionsApplied    = "decisions_applied"
	AuditImportExecuted      = "import_executed"
	AuditImportFailed        = "import_failed"
	AuditFileExpired         = "file_expired"
)

// AuditFilter narrows audit trail queries.
type AuditFilter struct {
	SubjectID *uuid.UUID
	Action    *string
	Actor     *string
	From      *time.Time
	To        *time.Time
}
