package importer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fieldops/opsimport/internal/domain"
	"github.com/fieldops/opsimport/internal/repository"

	"github.com/google/uuid"
)

// stubStaging is an in-memory staging store honoring the same contract as the
// Postgres implementation: lazy eviction on read and compare-and-swap updates.
type stubStaging struct {
	mu    sync.Mutex
	files map[uuid.UUID]domain.StagedFile
	now   func() time.Time
}

func newStubStaging() *stubStaging {
	return &stubStaging{
		files: map[uuid.UUID]domain.StagedFile{},
		now:   time.Now,
	}
}

func (s *stubStaging) Put(ctx context.Context, file domain.StagedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[file.ID] = file
	return nil
}

func (s *stubStaging) Get(ctx context.Context, id uuid.UUID) (domain.StagedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return domain.StagedFile{}, domain.ErrFileNotFound(id)
	}
	if file.Expired(s.now()) {
		delete(s.files, id)
		return domain.StagedFile{}, domain.ErrFileExpired(id)
	}
	return file, nil
}

func (s *stubStaging) Update(ctx context.Context, file domain.StagedFile) (domain.StagedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.files[file.ID]
	if !ok {
		return domain.StagedFile{}, domain.ErrFileNotFound(file.ID)
	}
	if current.Version != file.Version {
		return domain.StagedFile{}, domain.ErrConcurrentUpdate(file.ID)
	}
	file.Version++
	s.files[file.ID] = file
	return file, nil
}

func (s *stubStaging) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
	return nil
}

type stubRecords struct {
	created []domain.ImportRecord
}

func (s *stubRecords) Create(ctx context.Context, record domain.ImportRecord) (domain.ImportRecord, error) {
	s.created = append(s.created, record)
	return record, nil
}

func (s *stubRecords) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportRecord, error) {
	for _, record := range s.created {
		if record.ID == id {
			return record, nil
		}
	}
	return domain.ImportRecord{}, errors.New("not found")
}

func (s *stubRecords) GetBySourceFile(ctx context.Context, sourceFileID uuid.UUID) (domain.ImportRecord, bool, error) {
	for _, record := range s.created {
		if record.SourceFileID == sourceFileID && record.Status == domain.ImportRecordCompleted {
			return record, true, nil
		}
	}
	return domain.ImportRecord{}, false, nil
}

func (s *stubRecords) List(ctx context.Context, filter domain.ImportRecordFilter, limit, offset int) ([]domain.ImportRecord, int, error) {
	return append([]domain.ImportRecord(nil), s.created...), len(s.created), nil
}

type stubCommitted struct {
	payroll [][]domain.Row
	budgets [][]domain.Row
	signups [][]domain.Row
	fail    map[domain.DataCategory]error
}

func (s *stubCommitted) CommitPayroll(ctx context.Context, importID uuid.UUID, rows []domain.Row) (repository.CommitResult, error) {
	if err := s.fail[domain.CategoryPayroll]; err != nil {
		return repository.CommitResult{}, err
	}
	s.payroll = append(s.payroll, rows)
	return repository.CommitResult{Inserted: len(rows)}, nil
}

func (s *stubCommitted) CommitBudgets(ctx context.Context, importID uuid.UUID, rows []domain.Row) (repository.CommitResult, error) {
	if err := s.fail[domain.CategoryBudgetActuals]; err != nil {
		return repository.CommitResult{}, err
	}
	s.budgets = append(s.budgets, rows)
	return repository.CommitResult{Inserted: len(rows)}, nil
}

func (s *stubCommitted) CommitSignUps(ctx context.Context, importID uuid.UUID, rows []domain.Row) (repository.CommitResult, error) {
	if err := s.fail[domain.CategorySignUps]; err != nil {
		return repository.CommitResult{}, err
	}
	s.signups = append(s.signups, rows)
	return repository.CommitResult{Inserted: len(rows)}, nil
}

func (s *stubCommitted) committedRows() int {
	total := 0
	for _, batch := range s.payroll {
		total += len(batch)
	}
	for _, batch := range s.budgets {
		total += len(batch)
	}
	for _, batch := range s.signups {
		total += len(batch)
	}
	return total
}

type stubCanonical struct {
	entities map[domain.EntityType][]repository.CanonicalEntity
	created  []repository.CanonicalEntity
}

func (s *stubCanonical) ListByType(ctx context.Context, entityType domain.EntityType) ([]repository.CanonicalEntity, error) {
	return s.entities[entityType], nil
}

func (s *stubCanonical) Create(ctx context.Context, entityType domain.EntityType, name string) (repository.CanonicalEntity, error) {
	entity := repository.CanonicalEntity{ID: uuid.New(), Type: entityType, Name: name}
	s.created = append(s.created, entity)
	return entity, nil
}

type stubAudit struct {
	entries []domain.AuditEntry
}

func (s *stubAudit) Append(ctx context.Context, entry domain.AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAudit) List(ctx context.Context, filter domain.AuditFilter, limit, offset int) ([]domain.AuditEntry, int, error) {
	return append([]domain.AuditEntry(nil), s.entries...), len(s.entries), nil
}

func (s *stubAudit) actions() []string {
	names := make([]string, len(s.entries))
	for i, entry := range s.entries {
		names[i] = entry.Action
	}
	return names
}

// contendedStaging fails the first n updates with a version conflict, as if
// another writer got in between the read and the write.
type contendedStaging struct {
	*stubStaging
	conflicts int
}

func (s *contendedStaging) Update(ctx context.Context, file domain.StagedFile) (domain.StagedFile, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return domain.StagedFile{}, domain.ErrConcurrentUpdate(file.ID)
	}
	return s.stubStaging.Update(ctx, file)
}

var _ repository.StagingRepository = (*stubStaging)(nil)
var _ repository.StagingRepository = (*contendedStaging)(nil)
var _ repository.ImportRecordRepository = (*stubRecords)(nil)
var _ repository.CommittedRecordRepository = (*stubCommitted)(nil)
var _ repository.CanonicalEntityRepository = (*stubCanonical)(nil)
var _ repository.AuditRepository = (*stubAudit)(nil)
