package importer

import (
	"context"
	"time"

	"github.com/fieldops/opsimport/internal/audit"
	"github.com/fieldops/opsimport/internal/domain"
	"github.com/fieldops/opsimport/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ExecuteRequest triggers the one-time commit of a staged file.
type ExecuteRequest struct {
	Handle         uuid.UUID
	DryRun         bool
	SkipValidation bool
	// UnresolvedAsNew commits rows behind unresolved ambiguous matches as new
	// entities. It only applies together with SkipValidation; without it such
	// rows are counted skipped. The choice is always explicit, never implied.
	UnresolvedAsNew bool
	Actor           string
}

// Executor performs the at-most-once commit of validated, reconciled rows.
type Executor struct {
	staging   repository.StagingRepository
	records   repository.ImportRecordRepository
	committed repository.CommittedRecordRepository
	canonical repository.CanonicalEntityRepository
	recorder  *audit.Recorder
	log       *logrus.Logger
}

// NewExecutor wires the execution stage.
func NewExecutor(
	staging repository.StagingRepository,
	records repository.ImportRecordRepository,
	committed repository.CommittedRecordRepository,
	canonical repository.CanonicalEntityRepository,
	recorder *audit.Recorder,
	log *logrus.Logger,
) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{
		staging:   staging,
		records:   records,
		committed: committed,
		canonical: canonical,
		recorder:  recorder,
		log:       log,
	}
}

// Execute commits each declared category independently and records an
// ImportRecord. Execution is strictly at-most-once per handle; a dry run
// performs every check and produces the same summary shape without writing
// anything durable.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (domain.ImportRecord, error) {
	file, err := e.staging.Get(ctx, req.Handle)
	if err != nil {
		return domain.ImportRecord{}, err
	}

	if file.Status == domain.ImportStatusCompleted {
		return domain.ImportRecord{}, domain.ErrImportAlreadyExecuted(req.Handle)
	}
	if _, found, err := e.records.GetBySourceFile(ctx, req.Handle); err != nil {
		return domain.ImportRecord{}, err
	} else if found {
		return domain.ImportRecord{}, domain.ErrImportAlreadyExecuted(req.Handle)
	}

	if !req.SkipValidation {
		if file.Status != domain.ImportStatusReady {
			return domain.ImportRecord{}, domain.ErrImportNotReady(file.Status)
		}
		if file.Reconciliation != nil && !file.Reconciliation.AllResolved() {
			unresolved := len(file.Reconciliation.AmbiguousMatches) - file.Reconciliation.ResolvedCount()
			return domain.ImportRecord{}, domain.ErrReconciliationNotComplete(unresolved)
		}
	}

	startedAt := time.Now().UTC()

	invalidRows := invalidRowSet(file)
	unresolvedRows := unresolvedRowSet(file)
	committable, skippedInvalid, heldUnresolved := partitionRows(file, invalidRows, unresolvedRows, req.UnresolvedAsNew)

	if req.DryRun {
		record := e.buildRecord(file, req, committable, skippedInvalid, heldUnresolved, startedAt, nil)
		e.log.WithFields(logrus.Fields{
			"handle": file.ID,
			"rows":   len(committable),
		}).Info("dry run executed")
		return record, nil
	}

	// Claim the handle before writing anything; losing this compare-and-swap
	// means another execution is in flight.
	file.Status = domain.ImportStatusExecuting
	file, err = e.staging.Update(ctx, file)
	if err != nil {
		if coded, ok := domain.AsError(err); ok && coded.Code == domain.CodeConcurrentUpdate {
			return domain.ImportRecord{}, domain.ErrImportAlreadyExecuted(req.Handle)
		}
		return domain.ImportRecord{}, err
	}

	if req.UnresolvedAsNew {
		e.registerUnresolvedEntities(ctx, file)
	}
	e.registerDecidedEntities(ctx, file)

	results := e.commitCategories(ctx, file, committable)
	record := e.buildRecord(file, req, committable, skippedInvalid, heldUnresolved, startedAt, results)

	if _, err := e.records.Create(ctx, record); err != nil {
		file.Status = domain.ImportStatusFailed
		if _, updateErr := e.staging.Update(ctx, file); updateErr != nil {
			e.log.WithError(updateErr).Warn("failed to mark staged file failed")
		}
		e.recorder.Record(ctx, file.ID, domain.AuditImportFailed, req.Actor, map[string]any{
			"error": err.Error(),
		})
		return domain.ImportRecord{}, err
	}

	if record.Status == domain.ImportRecordCompleted {
		file.Status = domain.ImportStatusCompleted
	} else {
		file.Status = domain.ImportStatusFailed
	}
	if _, err := e.staging.Update(ctx, file); err != nil {
		e.log.WithError(err).Warn("import record persisted but staged status update failed")
	}

	e.recorder.Record(ctx, file.ID, domain.AuditImportExecuted, req.Actor, map[string]any{
		"import_id": record.ID,
		"status":    string(record.Status),
		"imported":  record.TotalImported(),
		"failed":    record.TotalFailed(),
	})

	e.log.WithFields(logrus.Fields{
		"handle":    file.ID,
		"import_id": record.ID,
		"status":    record.Status,
	}).Info("import executed")

	return record, nil
}

// commitCategories runs payroll first, then budgets, then sign-ups. A failed
// category is substituted with an inexact all-failed accounting so one
// category cannot abort the whole import.
func (e *Executor) commitCategories(ctx context.Context, file domain.StagedFile, rows []domain.Row) map[domain.DataCategory]repository.CommitResult {
	type commitFn func(context.Context, uuid.UUID, []domain.Row) (repository.CommitResult, error)

	ordered := []struct {
		category domain.DataCategory
		commit   commitFn
	}{
		{domain.CategoryPayroll, e.committed.CommitPayroll},
		{domain.CategoryBudgetActuals, e.committed.CommitBudgets},
		{domain.CategorySignUps, e.committed.CommitSignUps},
	}

	results := map[domain.DataCategory]repository.CommitResult{}
	for _, step := range ordered {
		if !file.HasCategory(step.category) {
			continue
		}
		result, err := step.commit(ctx, file.ID, rows)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"handle":   file.ID,
				"category": step.category,
			}).WithError(err).Error("category commit failed")
			results[step.category] = repository.CommitResult{Failed: len(rows) - result.Inserted - result.Updated - result.Skipped}
			continue
		}
		results[step.category] = result
	}
	return results
}

func (e *Executor) buildRecord(
	file domain.StagedFile,
	req ExecuteRequest,
	committable []domain.Row,
	skippedInvalid, heldUnresolved int,
	startedAt time.Time,
	results map[domain.DataCategory]repository.CommitResult,
) domain.ImportRecord {
	categories := map[domain.DataCategory]domain.CategoryCounts{}

	for _, category := range file.Categories {
		if results == nil {
			// Dry run: planned figures, explicitly marked inexact.
			categories[category] = domain.CategoryCounts{
				Imported: len(committable),
				Skipped:  skippedInvalid + heldUnresolved,
				Exact:    false,
			}
			continue
		}

		result, ran := results[category]
		if !ran {
			categories[category] = domain.CategoryCounts{Skipped: len(committable), Exact: false}
			continue
		}
		categories[category] = domain.CategoryCounts{
			Imported: result.Inserted,
			Updated:  result.Updated,
			Skipped:  result.Skipped + skippedInvalid + heldUnresolved,
			Failed:   result.Failed,
			Exact:    result.Failed == 0,
		}
	}

	status := domain.ImportRecordCompleted
	if results != nil && len(categories) > 0 {
		allFailed := true
		for _, counts := range categories {
			if counts.Failed < counts.Total() || counts.Total() == 0 {
				allFailed = false
				break
			}
		}
		if allFailed {
			status = domain.ImportRecordFailed
		}
	}

	return domain.ImportRecord{
		ID:           uuid.New(),
		SourceFileID: file.ID,
		Status:       status,
		Categories:   categories,
		DryRun:       req.DryRun,
		TriggeredBy:  req.Actor,
		StartedAt:    startedAt,
		CompletedAt:  time.Now().UTC(),
	}
}

// registerUnresolvedEntities creates canonical records for references still
// awaiting a decision when the caller explicitly asked to commit them as new.
func (e *Executor) registerUnresolvedEntities(ctx context.Context, file domain.StagedFile) {
	if file.Reconciliation == nil {
		return
	}
	for _, match := range file.Reconciliation.AmbiguousMatches {
		if match.Resolved {
			continue
		}
		if _, err := e.canonical.Create(ctx, match.EntityType, match.Text); err != nil {
			e.log.WithField("text", match.Text).WithError(err).Warn("failed to register unresolved entity")
		}
	}
}

// registerDecidedEntities creates canonical records for matches a human
// resolved with create_new.
func (e *Executor) registerDecidedEntities(ctx context.Context, file domain.StagedFile) {
	if file.Reconciliation == nil {
		return
	}
	for _, match := range file.Reconciliation.AmbiguousMatches {
		if !match.Resolved || match.UserSelection != domain.SelectionCreateNew {
			continue
		}
		if _, err := e.canonical.Create(ctx, match.EntityType, match.Text); err != nil {
			e.log.WithField("text", match.Text).WithError(err).Warn("failed to register decided entity")
		}
	}
}

func invalidRowSet(file domain.StagedFile) map[int]struct{} {
	rows := map[int]struct{}{}
	if file.Validation == nil {
		return rows
	}
	for _, issue := range file.Validation.Errors {
		rows[issue.RowNumber] = struct{}{}
	}
	return rows
}

func unresolvedRowSet(file domain.StagedFile) map[int]struct{} {
	rows := map[int]struct{}{}
	if file.Reconciliation == nil {
		return rows
	}
	for _, match := range file.Reconciliation.AmbiguousMatches {
		if match.Resolved {
			continue
		}
		for _, rowNumber := range match.RowNumbers {
			rows[rowNumber] = struct{}{}
		}
	}
	return rows
}

// partitionRows splits staged rows into committable rows, rows skipped for
// validation errors, and rows held behind unresolved matches.
func partitionRows(file domain.StagedFile, invalid, unresolved map[int]struct{}, unresolvedAsNew bool) ([]domain.Row, int, int) {
	committable := []domain.Row{}
	skippedInvalid := 0
	heldUnresolved := 0

	for idx, row := range file.Rows {
		rowNumber := idx + 1
		if _, bad := invalid[rowNumber]; bad {
			skippedInvalid++
			continue
		}
		if _, held := unresolved[rowNumber]; held && !unresolvedAsNew {
			heldUnresolved++
			continue
		}
		committable = append(committable, row)
	}

	return committable, skippedInvalid, heldUnresolved
}
