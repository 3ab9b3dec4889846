package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldops/opsimport/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository wires an append-only audit trail backed by pgxpool.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	if r.pool == nil {
		return fmt.Errorf("audit repository not initialized")
	}

	var details []byte
	if entry.Details != nil {
		marshalled, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = marshalled
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO audit_entries (subject_id, action, actor, details)
		 VALUES ($1, $2, $3, $4)`,
		entry.SubjectID,
		entry.Action,
		entry.Actor,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (r *auditRepository) List(ctx context.Context, filter domain.AuditFilter, limit, offset int) ([]domain.AuditEntry, int, error) {
	if r.pool == nil {
		return nil, 0, fmt.Errorf("audit repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	conditions := []string{"TRUE"}
	args := []any{}

	if filter.SubjectID != nil {
		args = append(args, *filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if filter.Action != nil {
		args = append(args, *filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.Actor != nil {
		args = append(args, *filter.Actor)
		conditions = append(conditions, fmt.Sprintf("actor = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")
	args = append(args, limit, offset)

	query := fmt.Sprintf(
		`SELECT id, subject_id, action, actor, details, created_at,
		        COUNT(*) OVER() AS total_count
		 FROM audit_entries
		 WHERE %s
		 ORDER BY id ASC
		 LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args),
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	total := 0
	for rows.Next() {
		var (
			entry     domain.AuditEntry
			details   []byte
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.SubjectID,
			&entry.Action,
			&entry.Actor,
			&details,
			&createdAt,
			&total,
		); scanErr != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", scanErr)
		}

		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}
		entries = append(entries, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit entries: %w", rowsErr)
	}

	return entries, total, nil
}
