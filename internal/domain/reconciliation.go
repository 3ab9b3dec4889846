package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityType names the canonical collections free text references resolve against.
type EntityType string

const (
	EntityAmbassador EntityType = "ambassador"
	EntityEvent      EntityType = "event"
	EntityOperator   EntityType = "operator"
)

// CandidateMatch is one plausible canonical counterpart for a free text reference.
type CandidateMatch struct {
	EntityID   uuid.UUID  `json:"entity_id"`
	EntityName string     `json:"entity_name"`
	EntityType EntityType `json:"entity_type"`
	Similarity float64    `json:"similarity"`
	Reason     string     `json:"reason"`
}

// UserSelection is the human decision applied to an ambiguous match.
type UserSelection string

const (
	SelectionUseMatch     UserSelection = "use_match"
	SelectionUseCandidate UserSelection = "use_candidate"
	SelectionCreateNew    UserSelection = "create_new"
)

// AmbiguousMatch records a free text reference that matched more than zero but
// not exactly one canonical candidate. Once resolved it is never re-opened.
type AmbiguousMatch struct {
	ID         uuid.UUID        `json:"id"`
	Text       string           `json:"text"`
	Field      string           `json:"field"`
	EntityType EntityType       `json:"entity_type"`
	RowNumbers []int            `json:"row_numbers"`
	Candidates []CandidateMatch `json:"candidates"`

	Resolved            bool          `json:"resolved"`
	UserSelection       UserSelection `json:"user_selection,omitempty"`
	SelectedCandidateID *uuid.UUID    `json:"selected_candidate_id,omitempty"`
	Notes               string        `json:"notes,omitempty"`
	ResolvedBy          string        `json:"resolved_by,omitempty"`
	ResolvedAt          *time.Time    `json:"resolved_at,omitempty"`
}

// ReconciliationStatus derives from the resolution state of all ambiguous matches.
type ReconciliationStatus string

const (
	ReconciliationNeedsReview ReconciliationStatus = "needs_review"
	ReconciliationComplete    ReconciliationStatus = "complete"
)

// Decision is one entry of a reconciliation decision batch.
type Decision struct {
	AmbiguousMatchID    uuid.UUID     `json:"ambiguous_match_id"`
	UserSelection       UserSelection `json:"user_selection"`
	SelectedCandidateID *uuid.UUID    `json:"selected_candidate_id,omitempty"`
	Notes               string        `json:"notes,omitempty"`
}

// ReconciliationOutcome summarizes entity linking for a staged file.
type ReconciliationOutcome struct {
	NewEntities      map[EntityType]int   `json:"new_entities"`
	LinkedRecords    int                  `json:"linked_records"`
	AmbiguousMatches []AmbiguousMatch     `json:"ambiguous_matches"`
	Status           ReconciliationStatus `json:"status"`
}

// ResolvedCount is a live count of resolved ambiguous matches.
func (o ReconciliationOutcome) ResolvedCount() int {
	count := 0
	for _, m := range o.AmbiguousMatches {
		if m.Resolved {
			count++
		}
	}
	return count
}

// AllResolved reports whether every ambiguous match carries a decision.
func (o ReconciliationOutcome) AllResolved() bool {
	return o.ResolvedCount() == len(o.AmbiguousMatches)
}

// DeriveStatus recomputes the outcome status from the resolution state.
func (o *ReconciliationOutcome) DeriveStatus() {
	if o.AllResolved() {
		o.Status = ReconciliationComplete
	} else {
		o.Status = ReconciliationNeedsReview
	}
}
