package audit

import (
	"context"

	"github.com/fieldops/opsimport/internal/domain"
	"github.com/fieldops/opsimport/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Recorder appends audit trail entries as a side effect of pipeline stages.
// Recording is best effort: a failed append is logged and never propagated,
// so observability problems cannot fail an import.
type Recorder struct {
	repo repository.AuditRepository
	log  *logrus.Logger
}

// NewRecorder wires a recorder over the audit repository.
func NewRecorder(repo repository.AuditRepository, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{repo: repo, log: log}
}

// Record appends one entry for a stage transition on the given subject.
func (r *Recorder) Record(ctx context.Context, subjectID uuid.UUID, action, actor string, details map[string]any) {
	if r == nil || r.repo == nil {
		return
	}

	entry := domain.AuditEntry{
		SubjectID: subjectID,
		Action:    action,
		Actor:     actor,
		Details:   details,
	}

	if err := r.repo.Append(ctx, entry); err != nil {
		r.log.WithFields(logrus.Fields{
			"subject": subjectID,
			"action":  action,
		}).WithError(err).Warn("failed to append audit entry")
	}
}
