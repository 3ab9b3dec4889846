package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fieldops/opsimport/internal/audit"
	"github.com/fieldops/opsimport/internal/domain"
)

func newTestParser(staging *stubStaging, auditRepo *stubAudit) *Parser {
	return NewParser(staging, audit.NewRecorder(auditRepo, nil), nil, 24*time.Hour, 0)
}

func TestParseDetectsHeaderAfterPreamble(t *testing.T) {
	staging := newStubStaging()
	auditRepo := &stubAudit{}
	parser := newTestParser(staging, auditRepo)

	data := `Quarterly Export
Generated 2024-03-01
Region: West
Ambassador, Date, Email, CPA
Jane Doe, 2024-01-05, jane@example.com, 12.50
John Roe, 2024-01-06, john@example.com, 11.00
`
	result, err := parser.Parse(context.Background(), ParseRequest{
		FileName:   "signups.csv",
		MediaType:  "text/csv",
		UploadedBy: "ops",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	if result.SkippedLines != 3 {
		t.Fatalf("expected 3 preamble lines skipped, got %d", result.SkippedLines)
	}
	if result.RowCount != 2 {
		t.Fatalf("expected 2 data rows, got %d", result.RowCount)
	}
	if len(result.Columns) != 4 || result.Columns[0] != "Ambassador" {
		t.Fatalf("unexpected columns: %v", result.Columns)
	}

	file, err := staging.Get(context.Background(), result.Handle)
	if err != nil {
		t.Fatalf("staged file not readable: %v", err)
	}
	if file.Status != domain.ImportStatusPending {
		t.Fatalf("expected pending status, got %s", file.Status)
	}
	if len(auditRepo.entries) != 1 || auditRepo.entries[0].Action != domain.AuditFileUploaded {
		t.Fatalf("expected file_uploaded audit entry, got %v", auditRepo.actions())
	}
}

func TestParseHonorsQuotedFields(t *testing.T) {
	staging := newStubStaging()
	parser := newTestParser(staging, &stubAudit{})

	data := `Ambassador, Event Name, Email
"Doe, Jane","Spring ""Kickoff"" Fair",jane@example.com
`
	result, err := parser.Parse(context.Background(), ParseRequest{
		FileName:  "events.csv",
		MediaType: "text/csv",
		Data:      strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	if result.RowCount != 1 {
		t.Fatalf("expected 1 row, got %d", result.RowCount)
	}
	row := result.PreviewRows[0]
	if row["Ambassador"] != "Doe, Jane" {
		t.Fatalf("quoted comma not preserved: %v", row["Ambassador"])
	}
	if row["Event Name"] != `Spring "Kickoff" Fair` {
		t.Fatalf("doubled quote not unescaped: %v", row["Event Name"])
	}
}

func TestParseCoercesCellValues(t *testing.T) {
	staging := newStubStaging()
	parser := newTestParser(staging, &stubAudit{})

	data := `Ambassador, Email, Hours, Rate, Active
Jane, jane@example.com, 40, 17.5, true
`
	result, err := parser.Parse(context.Background(), ParseRequest{
		FileName:  "payroll.csv",
		MediaType: "text/csv",
		Data:      strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	row := result.PreviewRows[0]
	if row["Hours"] != int64(40) {
		t.Fatalf("expected Hours coerced to int64, got %T (%v)", row["Hours"], row["Hours"])
	}
	if row["Rate"] != 17.5 {
		t.Fatalf("expected Rate coerced to float64, got %T (%v)", row["Rate"], row["Rate"])
	}
	if row["Active"] != true {
		t.Fatalf("expected Active coerced to bool, got %T (%v)", row["Active"], row["Active"])
	}
}

func TestParseRecordsRaggedRowsWithoutFailing(t *testing.T) {
	staging := newStubStaging()
	parser := newTestParser(staging, &stubAudit{})

	header := "Ambassador, Event Name, Email, Phone, Budget, Actual, Hours, Rate"
	good := "Jane, Fair, jane@example.com, 555-1234, 100, 90, 8, 17.5"
	ragged := "John, Fair"
	data := header + "\n" + good + "\n" + ragged + "\n"

	result, err := parser.Parse(context.Background(), ParseRequest{
		FileName:  "mixed.csv",
		MediaType: "text/csv",
		Data:      strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	if result.RowCount != 1 {
		t.Fatalf("expected 1 valid row, got %d", result.RowCount)
	}
	if len(result.ParseErrors) != 1 {
		t.Fatalf("expected 1 parse error, got %d", len(result.ParseErrors))
	}
	if result.ParseErrors[0].RowNumber != 2 {
		t.Fatalf("expected parse error on row 2, got %d", result.ParseErrors[0].RowNumber)
	}
}

func TestParseGuessesCategories(t *testing.T) {
	staging := newStubStaging()
	parser := newTestParser(staging, &stubAudit{})

	data := `Ambassador, Email, Budget, Actual, Hours, Rate
Jane, jane@example.com, 100, 90, 8, 17.5
`
	result, err := parser.Parse(context.Background(), ParseRequest{
		FileName:  "all.csv",
		MediaType: "text/csv",
		Data:      strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	want := map[domain.DataCategory]bool{
		domain.CategorySignUps:       true,
		domain.CategoryBudgetActuals: true,
		domain.CategoryPayroll:       true,
	}
	if len(result.Categories) != len(want) {
		t.Fatalf("expected all three categories, got %v", result.Categories)
	}
	for _, category := range result.Categories {
		if !want[category] {
			t.Fatalf("unexpected category %s", category)
		}
	}
}

func TestParseRejectsUnsupportedFormat(t *testing.T) {
	staging := newStubStaging()
	parser := newTestParser(staging, &stubAudit{})

	_, err := parser.Parse(context.Background(), ParseRequest{
		FileName:  "records.pdf",
		MediaType: "application/pdf",
		Data:      strings.NewReader("%PDF-1.4"),
	})
	if err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if domain.CodeOf(err) != domain.CodeInvalidFileFormat {
		t.Fatalf("expected INVALID_FILE_FORMAT, got %s", domain.CodeOf(err))
	}
}

func TestParseEnforcesSizeLimit(t *testing.T) {
	staging := newStubStaging()
	parser := NewParser(staging, nil, nil, time.Hour, 10)

	_, err := parser.Parse(context.Background(), ParseRequest{
		FileName:  "big.csv",
		MediaType: "text/csv",
		Data:      strings.NewReader("Ambassador, Email\nJane, jane@example.com\n"),
	})
	if domain.CodeOf(err) != domain.CodeFileTooLarge {
		t.Fatalf("expected FILE_TOO_LARGE, got %v", err)
	}
}

func TestStagedHandleExpiryIsIdempotent(t *testing.T) {
	staging := newStubStaging()
	parser := newTestParser(staging, &stubAudit{})

	data := "Ambassador, Email\nJane, jane@example.com\n"
	result, err := parser.Parse(context.Background(), ParseRequest{
		FileName:  "signups.csv",
		MediaType: "text/csv",
		Data:      strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	if _, err := staging.Get(context.Background(), result.Handle); err != nil {
		t.Fatalf("read before expiry failed: %v", err)
	}

	staging.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err = staging.Get(context.Background(), result.Handle)
	if domain.CodeOf(err) != domain.CodeFileExpired {
		t.Fatalf("expected FILE_EXPIRED on first read past expiry, got %v", err)
	}

	_, err = staging.Get(context.Background(), result.Handle)
	if domain.CodeOf(err) != domain.CodeFileNotFound {
		t.Fatalf("expected FILE_NOT_FOUND on second read, got %v", err)
	}
}
