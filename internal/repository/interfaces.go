package repository

import (
	"context"

	"github.com/fieldops/opsimport/internal/domain"

	"github.com/google/uuid"
)

// StagingRepository is the keyed store behind staged file handles.
// Get applies lazy eviction: a handle read past its expiry is deleted and
// reported as expired; subsequent reads report not found. Update is a
// compare-and-swap on the staged file's version counter.
type StagingRepository interface {
	Put(ctx context.Context, file domain.StagedFile) error
	Get(ctx context.Context, id uuid.UUID) (domain.StagedFile, error)
	Update(ctx context.Context, file domain.StagedFile) (domain.StagedFile, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ImportRecordRepository stores the durable artifacts of executed imports.
type ImportRecordRepository interface {
	Create(ctx context.Context, record domain.ImportRecord) (domain.ImportRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportRecord, error)
	// GetBySourceFile returns the completed record for a staged handle, if any.
	GetBySourceFile(ctx context.Context, sourceFileID uuid.UUID) (domain.ImportRecord, bool, error)
	List(ctx context.Context, filter domain.ImportRecordFilter, limit, offset int) ([]domain.ImportRecord, int, error)
}

// AuditRepository appends and queries the immutable audit trail.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, filter domain.AuditFilter, limit, offset int) ([]domain.AuditEntry, int, error)
}

// CanonicalEntity is one row of the canonical identity collaborator.
type CanonicalEntity struct {
	ID   uuid.UUID
	Type domain.EntityType
	Name string
}

// CanonicalEntityRepository looks up canonical identities for reconciliation.
// The concrete store is an external collaborator; this narrows it to what the
// reconciler needs.
type CanonicalEntityRepository interface {
	// ListByType returns all active canonical entities of one type.
	ListByType(ctx context.Context, entityType domain.EntityType) ([]CanonicalEntity, error)
	// Create registers a newly discovered entity and returns it.
	Create(ctx context.Context, entityType domain.EntityType, name string) (CanonicalEntity, error)
}

// CommitResult is the exact accounting of one category commit.
type CommitResult struct {
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
}

// CommittedRecordRepository is the durable record store that executed imports
// write into, one batch per data category.
type CommittedRecordRepository interface {
	CommitPayroll(ctx context.Context, importID uuid.UUID, rows []domain.Row) (CommitResult, error)
	CommitBudgets(ctx context.Context, importID uuid.UUID, rows []domain.Row) (CommitResult, error)
	CommitSignUps(ctx context.Context, importID uuid.UUID, rows []domain.Row) (CommitResult, error)
}
