package importer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fieldops/opsimport/internal/audit"
	"github.com/fieldops/opsimport/internal/domain"
	"github.com/fieldops/opsimport/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9\s\-\(\)]+$`)

	// amountFields are the budget columns whose populated values must parse
	// to a finite number, matched case-insensitively.
	amountFields = []string{"budget", "actual", "cost", "revenue", "spent", "planned"}

	// payrollFields must be numeric and non-negative when populated.
	payrollFields = []string{"hours", "rate", "salary", "wage", "commission"}

	currencyStripper = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "")
)

// ValidateRequest selects what to validate and how strictly.
type ValidateRequest struct {
	Handle     uuid.UUID
	Categories []domain.DataCategory
	Mode       domain.ValidationMode
	Actor      string
}

// Validator applies per-category field rules to staged rows.
type Validator struct {
	staging  repository.StagingRepository
	recorder *audit.Recorder
	log      *logrus.Logger
}

// NewValidator wires the validator stage.
func NewValidator(staging repository.StagingRepository, recorder *audit.Recorder, log *logrus.Logger) *Validator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Validator{staging: staging, recorder: recorder, log: log}
}

// guardMutable rejects stage calls once a handle reached its terminal
// completed state or is mid-execution. Completed handles never re-enter the
// pipeline.
func guardMutable(file domain.StagedFile) error {
	switch file.Status {
	case domain.ImportStatusCompleted:
		return domain.ErrImportAlreadyExecuted(file.ID)
	case domain.ImportStatusExecuting:
		return domain.ErrConcurrentUpdate(file.ID)
	}
	return nil
}

// Validate checks every staged row under the declared categories and writes
// the outcome onto the staged file. Strict mode fails the file when any
// blocking error exists; permissive mode always passes but reports the same
// issue list.
func (v *Validator) Validate(ctx context.Context, req ValidateRequest) (domain.ValidationOutcome, error) {
	if req.Mode == "" {
		req.Mode = domain.ModeStrict
	}
	if req.Mode != domain.ModeStrict && req.Mode != domain.ModePermissive {
		return domain.ValidationOutcome{}, domain.ErrBadRequest("unknown validation mode %q", req.Mode)
	}

	file, err := v.staging.Get(ctx, req.Handle)
	if err != nil {
		return domain.ValidationOutcome{}, err
	}
	if err := guardMutable(file); err != nil {
		return domain.ValidationOutcome{}, err
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = file.Categories
	}

	outcome := domain.ValidationOutcome{
		TotalRecords: len(file.Rows),
		Mode:         req.Mode,
		Errors:       []domain.ValidationIssue{},
		Warnings:     []domain.ValidationIssue{},
	}

	for _, category := range categories {
		for idx, row := range file.Rows {
			rowNumber := idx + 1
			errs, warns := validateRow(category, rowNumber, row)
			outcome.Errors = append(outcome.Errors, errs...)
			outcome.Warnings = append(outcome.Warnings, warns...)
		}
	}

	// A row with several failing fields counts once.
	outcome.InvalidRecords = outcome.DistinctErrorRows()
	outcome.ValidRecords = outcome.TotalRecords - outcome.InvalidRecords
	outcome.Passed = req.Mode == domain.ModePermissive || len(outcome.Errors) == 0

	file.Validation = &outcome
	if req.Mode == domain.ModeStrict && len(outcome.Errors) > 0 {
		file.Status = domain.ImportStatusFailed
	} else {
		file.Status = domain.ImportStatusValidating
	}

	if _, err := v.staging.Update(ctx, file); err != nil {
		return domain.ValidationOutcome{}, err
	}

	v.recorder.Record(ctx, file.ID, domain.AuditValidationCompleted, req.Actor, map[string]any{
		"mode":     string(req.Mode),
		"passed":   outcome.Passed,
		"errors":   len(outcome.Errors),
		"warnings": len(outcome.Warnings),
	})

	v.log.WithFields(logrus.Fields{
		"handle": file.ID,
		"mode":   req.Mode,
		"errors": len(outcome.Errors),
	}).Info("validation completed")

	return outcome, nil
}

func validateRow(category domain.DataCategory, rowNumber int, row domain.Row) ([]domain.ValidationIssue, []domain.ValidationIssue) {
	switch category {
	case domain.CategorySignUps:
		return validateSignUpRow(rowNumber, row)
	case domain.CategoryBudgetActuals:
		return validateBudgetRow(rowNumber, row)
	case domain.CategoryPayroll:
		return validatePayrollRow(rowNumber, row)
	default:
		return nil, nil
	}
}

func validateSignUpRow(rowNumber int, row domain.Row) ([]domain.ValidationIssue, []domain.ValidationIssue) {
	var errs, warns []domain.ValidationIssue

	for field, value := range row {
		text := stringValue(value)
		if text == "" {
			continue
		}

		lower := strings.ToLower(field)
		switch {
		case strings.Contains(lower, "email"):
			if !emailPattern.MatchString(text) {
				errs = append(errs, domain.ValidationIssue{
					RowNumber: rowNumber,
					Field:     field,
					Value:     text,
					Message:   "invalid email address",
					Code:      domain.CodeInvalidValue,
					Severity:  domain.SeverityError,
				})
			}
		case strings.Contains(lower, "phone"):
			if !phonePattern.MatchString(text) {
				warns = append(warns, domain.ValidationIssue{
					RowNumber: rowNumber,
					Field:     field,
					Value:     text,
					Message:   "phone number has an unexpected shape",
					Code:      domain.CodeInvalidValue,
					Severity:  domain.SeverityWarning,
				})
			}
		}
	}

	return errs, warns
}

func validateBudgetRow(rowNumber int, row domain.Row) ([]domain.ValidationIssue, []domain.ValidationIssue) {
	var errs []domain.ValidationIssue

	for field, value := range row {
		if !isAmountField(field) {
			continue
		}
		text := stringValue(value)
		if text == "" {
			continue
		}
		if _, err := parseAmount(text); err != nil {
			errs = append(errs, domain.ValidationIssue{
				RowNumber: rowNumber,
				Field:     field,
				Value:     text,
				Message:   fmt.Sprintf("amount does not parse to a number: %v", err),
				Code:      domain.CodeInvalidDataType,
				Severity:  domain.SeverityError,
			})
		}
	}

	return errs, nil
}

func validatePayrollRow(rowNumber int, row domain.Row) ([]domain.ValidationIssue, []domain.ValidationIssue) {
	var errs []domain.ValidationIssue

	for field, value := range row {
		if !isPayrollField(field) {
			continue
		}
		text := stringValue(value)
		if text == "" {
			continue
		}

		amount, err := parseAmount(text)
		if err != nil {
			errs = append(errs, domain.ValidationIssue{
				RowNumber: rowNumber,
				Field:     field,
				Value:     text,
				Message:   "payroll value must be numeric",
				Code:      domain.CodeInvalidDataType,
				Severity:  domain.SeverityError,
			})
			continue
		}
		if amount.IsNegative() {
			errs = append(errs, domain.ValidationIssue{
				RowNumber: rowNumber,
				Field:     field,
				Value:     text,
				Message:   "payroll value must be non-negative",
				Code:      domain.CodeInvalidValue,
				Severity:  domain.SeverityError,
			})
		}
	}

	return errs, nil
}

func isAmountField(field string) bool {
	lower := strings.ToLower(field)
	for _, name := range amountFields {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

func isPayrollField(field string) bool {
	lower := strings.ToLower(field)
	for _, name := range payrollFields {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// parseAmount strips currency symbols and thousands separators before parsing.
func parseAmount(text string) (decimal.Decimal, error) {
	cleaned := currencyStripper.Replace(strings.TrimSpace(text))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	return decimal.NewFromString(cleaned)
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case bool:
		return fmt.Sprintf("%t", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
