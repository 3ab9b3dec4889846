package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportRecordStatus is the terminal status of an execution.
type ImportRecordStatus string

const (
	ImportRecordCompleted ImportRecordStatus = "completed"
	ImportRecordFailed    ImportRecordStatus = "failed"
)

// CategoryCounts holds the per category commit accounting. Exact is false when
// the figures are planned rather than observed, e.g. for a dry run or a
// category whose commit failed partway; counts are never estimated from
// percentages.
type CategoryCounts struct {
	Imported int    `json:"imported"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Exact    bool   `json:"exact"`
	Error    string `json:"error,omitempty"`
}

// Total sums all row dispositions for the category.
func (c CategoryCounts) Total() int {
	return c.Imported + c.Updated + c.Skipped + c.Failed
}

// ImportRecord is the durable, terminal artifact of a successful execution.
// Created once by the executor and never deleted; it outlives the staged file
// that produced it.
type ImportRecord struct {
	ID           uuid.UUID                       `json:"id"`
	SourceFileID uuid.UUID                       `json:"source_file_id"`
	Status       ImportRecordStatus              `json:"status"`
	Categories   map[DataCategory]CategoryCounts `json:"categories"`
	DryRun       bool                            `json:"dry_run"`
	TriggeredBy  string                          `json:"triggered_by"`
	StartedAt    time.Time                       `json:"started_at"`
	CompletedAt  time.Time                       `json:"completed_at"`
}

// TotalImported sums imported rows across categories.
func (r ImportRecord) TotalImported() int {
	total := 0
	for _, counts := range r.Categories {
		total += counts.Imported
	}
	return total
}

// TotalFailed sums failed rows across categories.
func (r ImportRecord) TotalFailed() int {
	total := 0
	for _, counts := range r.Categories {
		total += counts.Failed
	}
	return total
}

// ImportRecordFilter narrows history queries.
type ImportRecordFilter struct {
	Status      *ImportRecordStatus
	Category    *DataCategory
	TriggeredBy *string
	From        *time.Time
	To          *time.Time
}
