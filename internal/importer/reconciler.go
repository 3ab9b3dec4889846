package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/opsimport/internal/audit"
	"github.com/fieldops/opsimport/internal/domain"
	"github.com/fieldops/opsimport/internal/matching"
	"github.com/fieldops/opsimport/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// casRetries bounds how often a stage re-reads after losing a version race.
const casRetries = 3

// Header names, in preference order, that free text entity references are
// extracted from.
var (
	ambassadorFieldVariants = []string{"ambassador name", "ambassador", "brand ambassador", "rep name", "rep"}
	eventFieldVariants      = []string{"event name", "event", "event title", "campaign"}
	operatorFieldVariants   = []string{"operator", "partner operator", "partner", "vendor"}
)

var fieldVariants = map[domain.EntityType][]string{
	domain.EntityAmbassador: ambassadorFieldVariants,
	domain.EntityEvent:      eventFieldVariants,
	domain.EntityOperator:   operatorFieldVariants,
}

// categoryTargets maps each data category to the entity types its rows
// reference.
var categoryTargets = map[domain.DataCategory][]domain.EntityType{
	domain.CategorySignUps:       {domain.EntityAmbassador, domain.EntityEvent},
	domain.CategoryPayroll:       {domain.EntityAmbassador},
	domain.CategoryBudgetActuals: {domain.EntityEvent, domain.EntityOperator},
}

// entityTargets resolves the requested categories to a stable ordered set of
// entity types.
func entityTargets(categories []domain.DataCategory) []domain.EntityType {
	wanted := map[domain.EntityType]bool{}
	for _, category := range categories {
		for _, entityType := range categoryTargets[category] {
			wanted[entityType] = true
		}
	}

	targets := []domain.EntityType{}
	for _, entityType := range []domain.EntityType{domain.EntityAmbassador, domain.EntityEvent, domain.EntityOperator} {
		if wanted[entityType] {
			targets = append(targets, entityType)
		}
	}
	return targets
}

// ReconcileRequest selects what to reconcile.
type ReconcileRequest struct {
	Handle     uuid.UUID
	Categories []domain.DataCategory
	Actor      string
}

// DecisionBatch applies human resolutions to ambiguous matches.
type DecisionBatch struct {
	Handle    uuid.UUID
	Decisions []domain.Decision
	Actor     string
}

// DecisionResult reports the effect of a decision batch.
type DecisionResult struct {
	Updated           int  `json:"updated"`
	ResolvedAmbiguous int  `json:"resolved_ambiguous"`
	TotalAmbiguous    int  `json:"total_ambiguous"`
	AllResolved       bool `json:"all_resolved"`
}

// Reconciler links free text entity references to canonical identities.
type Reconciler struct {
	staging   repository.StagingRepository
	canonical repository.CanonicalEntityRepository
	recorder  *audit.Recorder
	log       *logrus.Logger
}

// NewReconciler wires the reconciliation stage.
func NewReconciler(staging repository.StagingRepository, canonical repository.CanonicalEntityRepository, recorder *audit.Recorder, log *logrus.Logger) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{staging: staging, canonical: canonical, recorder: recorder, log: log}
}

// Reconcile matches every distinct free text reference once per file against
// canonical identities. Each lookup lands in exactly one of three outcomes:
// exact, ambiguous (human decision required), or new entity. Resolutions from
// a previous run are carried over; a resolved match is never re-opened.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (domain.ReconciliationOutcome, error) {
	file, err := r.staging.Get(ctx, req.Handle)
	if err != nil {
		return domain.ReconciliationOutcome{}, err
	}
	if err := guardMutable(file); err != nil {
		return domain.ReconciliationOutcome{}, err
	}

	outcome := domain.ReconciliationOutcome{
		NewEntities:      map[domain.EntityType]int{},
		AmbiguousMatches: []domain.AmbiguousMatch{},
	}

	previous := map[string]domain.AmbiguousMatch{}
	if file.Reconciliation != nil {
		for _, match := range file.Reconciliation.AmbiguousMatches {
			previous[matchKey(match.Field, match.Text)] = match
		}
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = file.Categories
	}

	for _, entityType := range entityTargets(categories) {
		field, values := extractReferences(file.Columns, file.Rows, fieldVariants[entityType])
		if field == "" {
			continue
		}

		names, err := r.canonicalNames(ctx, entityType)
		if err != nil {
			return domain.ReconciliationOutcome{}, err
		}

		for _, ref := range values {
			result, candidates := matching.Score(ref.text, names)
			switch result {
			case matching.OutcomeExact:
				outcome.LinkedRecords += len(ref.rowNumbers)
			case matching.OutcomeNew:
				outcome.NewEntities[entityType]++
			case matching.OutcomeAmbiguous:
				match := domain.AmbiguousMatch{
					ID:         uuid.New(),
					Text:       ref.text,
					Field:      field,
					EntityType: entityType,
					RowNumbers: ref.rowNumbers,
					Candidates: toCandidateMatches(entityType, candidates),
				}
				if prior, ok := previous[matchKey(field, ref.text)]; ok && prior.Resolved {
					match.ID = prior.ID
					match.Resolved = true
					match.UserSelection = prior.UserSelection
					match.SelectedCandidateID = prior.SelectedCandidateID
					match.Notes = prior.Notes
					match.ResolvedBy = prior.ResolvedBy
					match.ResolvedAt = prior.ResolvedAt
				}
				outcome.AmbiguousMatches = append(outcome.AmbiguousMatches, match)
			}
		}
	}

	outcome.DeriveStatus()

	file.Reconciliation = &outcome
	if outcome.Status == domain.ReconciliationComplete {
		file.Status = domain.ImportStatusReady
	} else {
		file.Status = domain.ImportStatusReconciling
	}

	if _, err := r.staging.Update(ctx, file); err != nil {
		return domain.ReconciliationOutcome{}, err
	}

	r.recorder.Record(ctx, file.ID, domain.AuditReconcilePerformed, req.Actor, map[string]any{
		"linked":    outcome.LinkedRecords,
		"ambiguous": len(outcome.AmbiguousMatches),
		"status":    string(outcome.Status),
	})

	r.log.WithFields(logrus.Fields{
		"handle":    file.ID,
		"linked":    outcome.LinkedRecords,
		"ambiguous": len(outcome.AmbiguousMatches),
	}).Info("reconciliation completed")

	return outcome, nil
}

// ApplyDecisions resolves ambiguous matches from a human decision batch.
// Unrecognized ids are ignored so overlapping batches can be resubmitted
// safely, and an already resolved match is never overwritten. The file flips
// to ready the moment every match is resolved.
func (r *Reconciler) ApplyDecisions(ctx context.Context, batch DecisionBatch) (DecisionResult, error) {
	for _, decision := range batch.Decisions {
		if err := validateDecision(decision); err != nil {
			return DecisionResult{}, err
		}
	}

	var result DecisionResult
	var lastErr error

	for attempt := 0; attempt < casRetries; attempt++ {
		file, err := r.staging.Get(ctx, batch.Handle)
		if err != nil {
			return DecisionResult{}, err
		}
		if err := guardMutable(file); err != nil {
			return DecisionResult{}, err
		}
		if file.Reconciliation == nil {
			return DecisionResult{}, domain.NewError(domain.CodeReconciliationNotFound, 409,
				"staged file %s has not been reconciled", batch.Handle)
		}

		outcome := file.Reconciliation
		updated := 0
		now := time.Now().UTC()

		for _, decision := range batch.Decisions {
			for idx := range outcome.AmbiguousMatches {
				match := &outcome.AmbiguousMatches[idx]
				if match.ID != decision.AmbiguousMatchID || match.Resolved {
					continue
				}
				if decision.UserSelection == domain.SelectionUseCandidate && !hasCandidate(*match, decision.SelectedCandidateID) {
					return DecisionResult{}, domain.NewError(domain.CodeInvalidDecision, 422,
						"candidate %v is not an option for match %s", decision.SelectedCandidateID, match.ID)
				}

				match.Resolved = true
				match.UserSelection = decision.UserSelection
				match.SelectedCandidateID = decision.SelectedCandidateID
				match.Notes = decision.Notes
				match.ResolvedBy = batch.Actor
				resolvedAt := now
				match.ResolvedAt = &resolvedAt
				updated++
			}
		}

		outcome.DeriveStatus()
		if outcome.Status == domain.ReconciliationComplete {
			file.Status = domain.ImportStatusReady
		}

		if _, err := r.staging.Update(ctx, file); err != nil {
			if coded, ok := domain.AsError(err); ok && coded.Code == domain.CodeConcurrentUpdate {
				lastErr = err
				continue
			}
			return DecisionResult{}, err
		}

		result = DecisionResult{
			Updated:           updated,
			ResolvedAmbiguous: outcome.ResolvedCount(),
			TotalAmbiguous:    len(outcome.AmbiguousMatches),
			AllResolved:       outcome.AllResolved(),
		}

		r.recorder.Record(ctx, file.ID, domain.AuditDecisionsApplied, batch.Actor, map[string]any{
			"updated":  updated,
			"resolved": result.ResolvedAmbiguous,
			"total":    result.TotalAmbiguous,
		})

		return result, nil
	}

	return DecisionResult{}, lastErr
}

func validateDecision(decision domain.Decision) error {
	switch decision.UserSelection {
	case domain.SelectionUseMatch, domain.SelectionUseCandidate, domain.SelectionCreateNew:
	default:
		return domain.NewError(domain.CodeInvalidDecision, 422,
			"unknown user selection %q", decision.UserSelection)
	}
	if decision.UserSelection == domain.SelectionUseCandidate && decision.SelectedCandidateID == nil {
		return domain.NewError(domain.CodeInvalidDecision, 422,
			"use_candidate requires selected_candidate_id")
	}
	return nil
}

func hasCandidate(match domain.AmbiguousMatch, candidateID *uuid.UUID) bool {
	if candidateID == nil {
		return false
	}
	for _, candidate := range match.Candidates {
		if candidate.EntityID == *candidateID {
			return true
		}
	}
	return false
}

type reference struct {
	text       string
	rowNumbers []int
}

// extractReferences finds the first header variant present in the file and
// groups its distinct values with the rows they occur on. Grouping folds case
// and whitespace; the text carried on each reference is the first occurrence
// exactly as uploaded.
func extractReferences(columns []string, rows []domain.Row, variants []string) (string, []reference) {
	field := ""
	for _, variant := range variants {
		for _, column := range columns {
			if strings.EqualFold(strings.TrimSpace(column), variant) {
				field = column
				break
			}
		}
		if field != "" {
			break
		}
	}
	if field == "" {
		return "", nil
	}

	order := []string{}
	firstSeen := map[string]string{}
	grouped := map[string][]int{}
	for idx, row := range rows {
		text := strings.TrimSpace(fmt.Sprintf("%v", row[field]))
		if text == "" || text == "<nil>" {
			continue
		}
		key := matching.Normalize(text)
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
			firstSeen[key] = text
		}
		grouped[key] = append(grouped[key], idx+1)
	}

	references := make([]reference, 0, len(order))
	for _, key := range order {
		references = append(references, reference{text: firstSeen[key], rowNumbers: grouped[key]})
	}
	return field, references
}

func (r *Reconciler) canonicalNames(ctx context.Context, entityType domain.EntityType) (map[string]string, error) {
	entities, err := r.canonical.ListByType(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load canonical %s records: %w", entityType, err)
	}

	names := make(map[string]string, len(entities))
	for _, entity := range entities {
		names[entity.ID.String()] = entity.Name
	}
	return names, nil
}

func toCandidateMatches(entityType domain.EntityType, candidates []matching.Candidate) []domain.CandidateMatch {
	matches := make([]domain.CandidateMatch, 0, len(candidates))
	for _, candidate := range candidates {
		id, err := uuid.Parse(candidate.ID)
		if err != nil {
			continue
		}
		matches = append(matches, domain.CandidateMatch{
			EntityID:   id,
			EntityName: candidate.Name,
			EntityType: entityType,
			Similarity: candidate.Similarity,
			Reason:     candidate.Reason,
		})
	}
	return matches
}

func matchKey(field, text string) string {
	return field + "\x00" + matching.Normalize(text)
}
