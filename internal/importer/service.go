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

// Service is the thin orchestrator over the four pipeline stages plus the
// read-only reporting queries. Each stage owns its semantics; the service only
// composes them behind one surface.
type Service struct {
	parser     *Parser
	validator  *Validator
	reconciler *Reconciler
	executor   *Executor
	records    repository.ImportRecordRepository
	auditRepo  repository.AuditRepository
}

// NewService composes the pipeline stages.
func NewService(
	parser *Parser,
	validator *Validator,
	reconciler *Reconciler,
	executor *Executor,
	records repository.ImportRecordRepository,
	auditRepo repository.AuditRepository,
) *Service {
	return &Service{
		parser:     parser,
		validator:  validator,
		reconciler: reconciler,
		executor:   executor,
		records:    records,
		auditRepo:  auditRepo,
	}
}

// Parse stages an upload. Safe to retry: every call stages a fresh handle.
func (s *Service) Parse(ctx context.Context, req ParseRequest) (ParseResult, error) {
	return s.parser.Parse(ctx, req)
}

// Validate runs category rules over a staged file. Safe to retry: re-running
// replaces the previous outcome.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (domain.ValidationOutcome, error) {
	return s.validator.Validate(ctx, req)
}

// Reconcile links staged references to canonical identities. Safe to retry:
// resolved matches are carried over.
func (s *Service) Reconcile(ctx context.Context, req ReconcileRequest) (domain.ReconciliationOutcome, error) {
	return s.reconciler.Reconcile(ctx, req)
}

// ApplyDecisions resolves ambiguous matches. Safe to retry: already applied
// decisions are no-ops.
func (s *Service) ApplyDecisions(ctx context.Context, batch DecisionBatch) (DecisionResult, error) {
	return s.reconciler.ApplyDecisions(ctx, batch)
}

// Execute commits a staged file. NOT safe to retry after success: a second
// call fails with IMPORT_ALREADY_EXECUTED.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (domain.ImportRecord, error) {
	return s.executor.Execute(ctx, req)
}

// History pages over executed imports.
func (s *Service) History(ctx context.Context, filter domain.ImportRecordFilter, limit, offset int) ([]domain.ImportRecord, int, error) {
	return s.records.List(ctx, filter, limit, offset)
}

// Report fetches a single import record by id.
func (s *Service) Report(ctx context.Context, id uuid.UUID) (domain.ImportRecord, error) {
	return s.records.GetByID(ctx, id)
}

// AuditTrail pages over audit entries for one subject.
func (s *Service) AuditTrail(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]domain.AuditEntry, int, error) {
	filter := domain.AuditFilter{SubjectID: &subjectID}
	return s.auditRepo.List(ctx, filter, limit, offset)
}

// PipelineOptions carries the tunables the stages need.
type PipelineOptions struct {
	StagingTTL     time.Duration
	MaxUploadBytes int64
}

// NewPipeline builds a fully wired service from repositories; convenience for
// the server entry point.
func NewPipeline(
	staging repository.StagingRepository,
	records repository.ImportRecordRepository,
	committed repository.CommittedRecordRepository,
	canonical repository.CanonicalEntityRepository,
	auditRepo repository.AuditRepository,
	recorder *audit.Recorder,
	log *logrus.Logger,
	opts PipelineOptions,
) *Service {
	parser := NewParser(staging, recorder, log, opts.StagingTTL, opts.MaxUploadBytes)
	validator := NewValidator(staging, recorder, log)
	reconciler := NewReconciler(staging, canonical, recorder, log)
	executor := NewExecutor(staging, records, committed, canonical, recorder, log)
	return NewService(parser, validator, reconciler, executor, records, auditRepo)
}
