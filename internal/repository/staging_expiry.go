package repository

import (
	"context"
	"time"

	"github.com/fieldops/opsimport/internal/domain"

	"github.com/google/uuid"
)

// expiryAuditStaging wraps a staging store and records an audit entry the
// moment a handle is lazily evicted. Auditing is best effort; the eviction
// itself already happened inside the wrapped store.
type expiryAuditStaging struct {
	StagingRepository
	audit AuditRepository
	now   func() time.Time
}

// WithExpiryAudit decorates a staging store with expiry auditing.
func WithExpiryAudit(inner StagingRepository, audit AuditRepository) StagingRepository {
	return &expiryAuditStaging{StagingRepository: inner, audit: audit, now: time.Now}
}

func (s *expiryAuditStaging) Get(ctx context.Context, id uuid.UUID) (domain.StagedFile, error) {
	file, err := s.StagingRepository.Get(ctx, id)
	if err != nil && s.audit != nil {
		if coded, ok := domain.AsError(err); ok && coded.Code == domain.CodeFileExpired {
			_ = s.audit.Append(ctx, domain.AuditEntry{
				SubjectID: id,
				Action:    domain.AuditFileExpired,
				Actor:     "system",
				CreatedAt: s.now().UTC(),
			})
		}
	}
	return file, err
}
