package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/fieldops/opsimport/internal/audit"
	"github.com/fieldops/opsimport/internal/domain"
	"github.com/fieldops/opsimport/internal/repository"

	"github.com/google/uuid"
)

func newTestExecutor(staging repository.StagingRepository, records *stubRecords, committed *stubCommitted, canonical *stubCanonical, auditRepo *stubAudit) *Executor {
	return NewExecutor(staging, records, committed, canonical, audit.NewRecorder(auditRepo, nil), nil)
}

func stageReadyFile(t *testing.T, staging *stubStaging, categories []domain.DataCategory, rows []domain.Row) domain.StagedFile {
	t.Helper()
	file := stageFile(t, staging, categories, []string{"Ambassador", "Email"}, rows)
	file.Status = domain.ImportStatusReady
	file.Reconciliation = &domain.ReconciliationOutcome{
		NewEntities: map[domain.EntityType]int{},
		Status:      domain.ReconciliationComplete,
	}
	if err := staging.Put(context.Background(), file); err != nil {
		t.Fatalf("failed to stage ready file: %v", err)
	}
	return file
}

func signUpRows(n int) []domain.Row {
	rows := make([]domain.Row, n)
	for i := range rows {
		rows[i] = domain.Row{"Ambassador": "Jane Doe", "Email": "jane@example.com"}
	}
	return rows
}

func TestExecuteRequiresReadyStatus(t *testing.T) {
	staging := newStubStaging()
	executor := newTestExecutor(staging, &stubRecords{}, &stubCommitted{}, &stubCanonical{}, &stubAudit{})

	file := stageFile(t, staging, []domain.DataCategory{domain.CategorySignUps},
		[]string{"Ambassador", "Email"}, signUpRows(1))

	_, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if domain.CodeOf(err) != domain.CodeImportNotReady {
		t.Fatalf("expected IMPORT_NOT_READY, got %v", err)
	}
}

func TestExecuteBlocksOnUnresolvedMatches(t *testing.T) {
	staging := newStubStaging()
	executor := newTestExecutor(staging, &stubRecords{}, &stubCommitted{}, &stubCanonical{}, &stubAudit{})

	file := stageReadyFile(t, staging, []domain.DataCategory{domain.CategorySignUps}, signUpRows(2))
	file.Reconciliation.AmbiguousMatches = []domain.AmbiguousMatch{
		{ID: uuid.New(), Text: "jan doe", EntityType: domain.EntityAmbassador, RowNumbers: []int{1}},
	}
	file.Reconciliation.Status = domain.ReconciliationNeedsReview
	if err := staging.Put(context.Background(), file); err != nil {
		t.Fatalf("failed to restage: %v", err)
	}

	_, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if domain.CodeOf(err) != domain.CodeReconciliationNotComplete {
		t.Fatalf("expected RECONCILIATION_NOT_COMPLETE, got %v", err)
	}

	// Resolving the match unblocks a retried execute.
	file.Reconciliation.AmbiguousMatches[0].Resolved = true
	file.Reconciliation.AmbiguousMatches[0].UserSelection = domain.SelectionUseMatch
	file.Reconciliation.Status = domain.ReconciliationComplete
	if err := staging.Put(context.Background(), file); err != nil {
		t.Fatalf("failed to restage: %v", err)
	}

	record, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if err != nil {
		t.Fatalf("execute after resolution returned error: %v", err)
	}
	if record.Status != domain.ImportRecordCompleted {
		t.Fatalf("expected completed record after resolution, got %s", record.Status)
	}
}

func TestExecuteCommitsAndRecords(t *testing.T) {
	staging := newStubStaging()
	records := &stubRecords{}
	committed := &stubCommitted{}
	auditRepo := &stubAudit{}
	executor := newTestExecutor(staging, records, committed, &stubCanonical{}, auditRepo)

	file := stageReadyFile(t, staging, []domain.DataCategory{domain.CategorySignUps}, signUpRows(3))

	record, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID, Actor: "ops"})
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}

	if record.Status != domain.ImportRecordCompleted {
		t.Fatalf("expected completed record, got %s", record.Status)
	}
	counts := record.Categories[domain.CategorySignUps]
	if counts.Imported != 3 || !counts.Exact {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if committed.committedRows() != 3 {
		t.Fatalf("expected 3 committed rows, got %d", committed.committedRows())
	}
	if len(records.created) != 1 {
		t.Fatalf("expected 1 persisted import record, got %d", len(records.created))
	}

	updated, _ := staging.Get(context.Background(), file.ID)
	if updated.Status != domain.ImportStatusCompleted {
		t.Fatalf("expected completed staged status, got %s", updated.Status)
	}

	actions := auditRepo.actions()
	if len(actions) == 0 || actions[len(actions)-1] != domain.AuditImportExecuted {
		t.Fatalf("expected import_executed audit entry, got %v", actions)
	}
}

func TestExecuteIsAtMostOnce(t *testing.T) {
	staging := newStubStaging()
	records := &stubRecords{}
	executor := newTestExecutor(staging, records, &stubCommitted{}, &stubCanonical{}, &stubAudit{})

	file := stageReadyFile(t, staging, []domain.DataCategory{domain.CategorySignUps}, signUpRows(1))

	if _, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID}); err != nil {
		t.Fatalf("first execute returned error: %v", err)
	}

	_, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if domain.CodeOf(err) != domain.CodeImportAlreadyExecuted {
		t.Fatalf("expected IMPORT_ALREADY_EXECUTED, got %v", err)
	}

	// A dry run after a real execution must refuse too.
	_, err = executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID, DryRun: true})
	if domain.CodeOf(err) != domain.CodeImportAlreadyExecuted {
		t.Fatalf("expected IMPORT_ALREADY_EXECUTED for dry run, got %v", err)
	}

	if len(records.created) != 1 {
		t.Fatalf("expected exactly 1 import record, got %d", len(records.created))
	}
}

func TestExecuteLosingClaimReportsAlreadyExecuted(t *testing.T) {
	staging := newStubStaging()
	records := &stubRecords{}
	committed := &stubCommitted{}

	file := stageReadyFile(t, staging, []domain.DataCategory{domain.CategorySignUps}, signUpRows(2))

	contended := &contendedStaging{stubStaging: staging, conflicts: 1}
	executor := newTestExecutor(contended, records, committed, &stubCanonical{}, &stubAudit{})

	_, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if domain.CodeOf(err) != domain.CodeImportAlreadyExecuted {
		t.Fatalf("losing the execution claim must report IMPORT_ALREADY_EXECUTED, got %v", err)
	}
	if committed.committedRows() != 0 {
		t.Fatalf("a lost claim must commit nothing, got %d rows", committed.committedRows())
	}
	if len(records.created) != 0 {
		t.Fatalf("a lost claim must persist no import record")
	}
}

func TestExecuteDryRunWritesNothing(t *testing.T) {
	staging := newStubStaging()
	records := &stubRecords{}
	committed := &stubCommitted{}
	executor := newTestExecutor(staging, records, committed, &stubCanonical{}, &stubAudit{})

	file := stageReadyFile(t, staging, []domain.DataCategory{domain.CategorySignUps}, signUpRows(4))

	record, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID, DryRun: true})
	if err != nil {
		t.Fatalf("dry run returned error: %v", err)
	}

	if !record.DryRun {
		t.Fatalf("record must be flagged as dry run")
	}
	counts := record.Categories[domain.CategorySignUps]
	if counts.Imported != 4 || counts.Exact {
		t.Fatalf("dry run counts must be inexact planned figures: %+v", counts)
	}
	if committed.committedRows() != 0 {
		t.Fatalf("dry run must not commit rows, got %d", committed.committedRows())
	}
	if len(records.created) != 0 {
		t.Fatalf("dry run must not persist an import record")
	}

	updated, _ := staging.Get(context.Background(), file.ID)
	if updated.Status != domain.ImportStatusReady {
		t.Fatalf("dry run must not consume the handle, got status %s", updated.Status)
	}

	// The handle is still executable for real.
	if _, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID}); err != nil {
		t.Fatalf("execute after dry run returned error: %v", err)
	}
}

func TestExecuteSkipsInvalidRows(t *testing.T) {
	staging := newStubStaging()
	committed := &stubCommitted{}
	executor := newTestExecutor(staging, &stubRecords{}, committed, &stubCanonical{}, &stubAudit{})

	file := stageReadyFile(t, staging, []domain.DataCategory{domain.CategorySignUps}, signUpRows(3))
	file.Validation = &domain.ValidationOutcome{
		Errors: []domain.ValidationIssue{
			{RowNumber: 2, Field: "Email", Code: domain.CodeInvalidValue, Severity: domain.SeverityError},
		},
		InvalidRecords: 1,
	}
	if err := staging.Put(context.Background(), file); err != nil {
		t.Fatalf("failed to restage: %v", err)
	}

	record, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}

	counts := record.Categories[domain.CategorySignUps]
	if counts.Imported != 2 || counts.Skipped != 1 {
		t.Fatalf("invalid row must be skipped, got %+v", counts)
	}
	if committed.committedRows() != 2 {
		t.Fatalf("expected 2 committed rows, got %d", committed.committedRows())
	}
}

func TestExecuteUnresolvedAsNew(t *testing.T) {
	staging := newStubStaging()
	committed := &stubCommitted{}
	canonical := &stubCanonical{}
	executor := newTestExecutor(staging, &stubRecords{}, committed, canonical, &stubAudit{})

	file := stageReadyFile(t, staging, []domain.DataCategory{domain.CategorySignUps}, signUpRows(2))
	file.Reconciliation.AmbiguousMatches = []domain.AmbiguousMatch{
		{ID: uuid.New(), Text: "Jan Doe", EntityType: domain.EntityAmbassador, RowNumbers: []int{2}},
	}
	file.Reconciliation.Status = domain.ReconciliationNeedsReview
	if err := staging.Put(context.Background(), file); err != nil {
		t.Fatalf("failed to restage: %v", err)
	}

	// Without the explicit flag the held row is skipped.
	record, err := executor.Execute(context.Background(), ExecuteRequest{
		Handle:         file.ID,
		SkipValidation: true,
		DryRun:         true,
	})
	if err != nil {
		t.Fatalf("dry run returned error: %v", err)
	}
	counts := record.Categories[domain.CategorySignUps]
	if counts.Imported != 1 || counts.Skipped != 1 {
		t.Fatalf("held row must be skipped without the flag, got %+v", counts)
	}

	// With the flag the row commits and the reference becomes a new entity.
	record, err = executor.Execute(context.Background(), ExecuteRequest{
		Handle:          file.ID,
		SkipValidation:  true,
		UnresolvedAsNew: true,
	})
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}
	counts = record.Categories[domain.CategorySignUps]
	if counts.Imported != 2 || counts.Skipped != 0 {
		t.Fatalf("held row must commit with the flag, got %+v", counts)
	}
	if len(canonical.created) != 1 || canonical.created[0].Name != "Jan Doe" {
		t.Fatalf("unresolved reference must be registered under the text as uploaded, got %+v", canonical.created)
	}
}

func TestExecuteContainsCategoryFailure(t *testing.T) {
	staging := newStubStaging()
	committed := &stubCommitted{fail: map[domain.DataCategory]error{
		domain.CategoryPayroll: errors.New("payroll table unavailable"),
	}}
	executor := newTestExecutor(staging, &stubRecords{}, committed, &stubCanonical{}, &stubAudit{})

	file := stageReadyFile(t, staging,
		[]domain.DataCategory{domain.CategoryPayroll, domain.CategorySignUps}, signUpRows(2))

	record, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}

	payroll := record.Categories[domain.CategoryPayroll]
	if payroll.Failed != 2 || payroll.Exact {
		t.Fatalf("failed category must carry inexact all-failed counts, got %+v", payroll)
	}
	signUps := record.Categories[domain.CategorySignUps]
	if signUps.Imported != 2 || !signUps.Exact {
		t.Fatalf("healthy category must still commit, got %+v", signUps)
	}
	if record.Status != domain.ImportRecordCompleted {
		t.Fatalf("one failed category must not fail the whole import, got %s", record.Status)
	}
}

func TestExecuteAllCategoriesFailedMarksRecordFailed(t *testing.T) {
	staging := newStubStaging()
	committed := &stubCommitted{fail: map[domain.DataCategory]error{
		domain.CategorySignUps: errors.New("sign up table unavailable"),
	}}
	executor := newTestExecutor(staging, &stubRecords{}, committed, &stubCanonical{}, &stubAudit{})

	file := stageReadyFile(t, staging, []domain.DataCategory{domain.CategorySignUps}, signUpRows(2))

	record, err := executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}
	if record.Status != domain.ImportRecordFailed {
		t.Fatalf("expected failed record, got %s", record.Status)
	}

	updated, _ := staging.Get(context.Background(), file.ID)
	if updated.Status != domain.ImportStatusFailed {
		t.Fatalf("expected failed staged status, got %s", updated.Status)
	}

	// A failed execution is still a consumed handle.
	_, err = executor.Execute(context.Background(), ExecuteRequest{Handle: file.ID})
	if domain.CodeOf(err) != domain.CodeImportNotReady {
		t.Fatalf("expected IMPORT_NOT_READY after failure, got %v", err)
	}
}
