package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportStatus tracks a staged file through the import pipeline.
type ImportStatus string

const (
	ImportStatusPending     ImportStatus = "pending"
	ImportStatusValidating  ImportStatus = "validating"
	ImportStatusReconciling ImportStatus = "reconciling"
	ImportStatusReady       ImportStatus = "ready"
	ImportStatusExecuting   ImportStatus = "executing"
	ImportStatusCompleted   ImportStatus = "completed"
	ImportStatusFailed      ImportStatus = "failed"
)

// DataCategory classifies what kind of historical records a file carries.
// A single file may match several categories at once.
type DataCategory string

const (
	CategorySignUps       DataCategory = "sign_ups"
	CategoryBudgetActuals DataCategory = "budgets_actuals"
	CategoryPayroll       DataCategory = "payroll"
)

// ParseError captures a row level problem found while parsing an upload.
type ParseError struct {
	RowNumber int    `json:"row_number"`
	Message   string `json:"message"`
}

// Row is one parsed data row keyed by sanitized column name.
type Row map[string]any

// StagedFile holds the parsed content of an upload behind a time limited handle.
// It is owned by the staging store and mutated only by the pipeline stages.
type StagedFile struct {
	ID          uuid.UUID      `json:"id"`
	FileName    string         `json:"file_name"`
	Size        int64          `json:"size"`
	MediaType   string         `json:"media_type"`
	RowCount    int            `json:"row_count"`
	Columns     []string       `json:"columns"`
	Categories  []DataCategory `json:"categories"`
	Rows        []Row          `json:"rows"`
	ParseErrors []ParseError   `json:"parse_errors"`
	UploadedBy  string         `json:"uploaded_by"`
	Status      ImportStatus   `json:"import_status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`

	Validation     *ValidationOutcome     `json:"validation,omitempty"`
	Reconciliation *ReconciliationOutcome `json:"reconciliation,omitempty"`

	// Version is an optimistic concurrency counter; every staging store
	// update must present the version it read.
	Version int64 `json:"version"`
}

// NewStagedFile creates a staged file in the pending state.
func NewStagedFile(fileName, mediaType, uploadedBy string, size int64, ttl time.Duration) StagedFile {
	now := time.Now().UTC()
	return StagedFile{
		ID:         uuid.New(),
		FileName:   fileName,
		Size:       size,
		MediaType:  mediaType,
		UploadedBy: uploadedBy,
		Status:     ImportStatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Version:    1,
	}
}

// Expired reports whether the handle is past its time to live at the given instant.
func (f StagedFile) Expired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}

// HasCategory reports whether the file was detected (or declared) as carrying
// the given category.
func (f StagedFile) HasCategory(category DataCategory) bool {
	for _, c := range f.Categories {
		if c == category {
			return true
		}
	}
	return false
}
