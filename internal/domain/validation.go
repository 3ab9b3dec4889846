package domain

// ValidationMode controls whether errors block progression.
type ValidationMode string

const (
	// ModeStrict fails the file when any blocking error exists.
	ModeStrict ValidationMode = "strict"
	// ModePermissive always passes; errors are reported but advisory only.
	ModePermissive ValidationMode = "permissive"
)

// Severity ranks a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue describes a single field level problem on one row.
type ValidationIssue struct {
	RowNumber int      `json:"row_number"`
	Field     string   `json:"field"`
	Value     string   `json:"value"`
	Message   string   `json:"message"`
	Code      string   `json:"code"`
	Severity  Severity `json:"severity"`
}

// ValidationOutcome is the result of running category rules over a staged file.
// It is replaced wholesale when validation is re-run.
type ValidationOutcome struct {
	TotalRecords   int               `json:"total_records"`
	ValidRecords   int               `json:"valid_records"`
	InvalidRecords int               `json:"invalid_records"`
	Mode           ValidationMode    `json:"mode"`
	Passed         bool              `json:"validation_passed"`
	Errors         []ValidationIssue `json:"errors"`
	Warnings       []ValidationIssue `json:"warnings"`
}

// DistinctErrorRows counts rows that carry at least one blocking error.
// A row with several failing fields counts once.
func (o ValidationOutcome) DistinctErrorRows() int {
	seen := make(map[int]struct{}, len(o.Errors))
	for _, issue := range o.Errors {
		seen[issue.RowNumber] = struct{}{}
	}
	return len(seen)
}
