package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fieldops/opsimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type importRecordRepository struct {
	pool *pgxpool.Pool
}

// NewImportRecordRepository wires a repository backed by pgxpool.
func NewImportRecordRepository(pool *pgxpool.Pool) ImportRecordRepository {
	return &importRecordRepository{pool: pool}
}

func (r *importRecordRepository) Create(ctx context.Context, record domain.ImportRecord) (domain.ImportRecord, error) {
	if r.pool == nil {
		return domain.ImportRecord{}, fmt.Errorf("import record repository not initialized")
	}

	categories, err := json.Marshal(record.Categories)
	if err != nil {
		return domain.ImportRecord{}, fmt.Errorf("failed to marshal category counts: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO import_records (id, source_file_id, status, categories, dry_run, triggered_by, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.SourceFileID,
		string(record.Status),
		categories,
		record.DryRun,
		record.TriggeredBy,
		record.StartedAt,
		record.CompletedAt,
	)
	if err != nil {
		return domain.ImportRecord{}, fmt.Errorf("failed to create import record: %w", err)
	}

	return record, nil
}

func (r *importRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportRecord, error) {
	if r.pool == nil {
		return domain.ImportRecord{}, fmt.Errorf("import record repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT id, source_file_id, status, categories, dry_run, triggered_by, started_at, completed_at
		 FROM import_records
		 WHERE id = $1`,
		id,
	)

	record, err := scanImportRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportRecord{}, domain.NewError(domain.CodeImportNotFound, 404, "import record %s not found", id)
		}
		return domain.ImportRecord{}, fmt.Errorf("failed to get import record: %w", err)
	}
	return record, nil
}

func (r *importRecordRepository) GetBySourceFile(ctx context.Context, sourceFileID uuid.UUID) (domain.ImportRecord, bool, error) {
	if r.pool == nil {
		return domain.ImportRecord{}, false, fmt.Errorf("import record repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT id, source_file_id, status, categories, dry_run, triggered_by, started_at, completed_at
		 FROM import_records
		 WHERE source_file_id = $1 AND status = 'completed'
		 ORDER BY completed_at DESC
		 LIMIT 1`,
		sourceFileID,
	)

	record, err := scanImportRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportRecord{}, false, nil
		}
		return domain.ImportRecord{}, false, fmt.Errorf("failed to look up import record: %w", err)
	}
	return record, true, nil
}

func (r *importRecordRepository) List(ctx context.Context, filter domain.ImportRecordFilter, limit, offset int) ([]domain.ImportRecord, int, error) {
	if r.pool == nil {
		return nil, 0, fmt.Errorf("import record repository not initialized")
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	conditions := []string{"TRUE"}
	args := []any{}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, string(*filter.Category))
		conditions = append(conditions, fmt.Sprintf("categories ? $%d", len(args)))
	}
	if filter.TriggeredBy != nil {
		args = append(args, *filter.TriggeredBy)
		conditions = append(conditions, fmt.Sprintf("triggered_by = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("completed_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("completed_at <= $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")
	args = append(args, limit, offset)

	query := fmt.Sprintf(
		`SELECT id, source_file_id, status, categories, dry_run, triggered_by, started_at, completed_at,
		        COUNT(*) OVER() AS total_count
		 FROM import_records
		 WHERE %s
		 ORDER BY completed_at DESC
		 LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args),
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list import records: %w", err)
	}
	defer rows.Close()

	records := []domain.ImportRecord{}
	total := 0
	for rows.Next() {
		var (
			record      domain.ImportRecord
			status      string
			categories  []byte
			startedAt   pgtype.Timestamptz
			completedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&record.ID,
			&record.SourceFileID,
			&status,
			&categories,
			&record.DryRun,
			&record.TriggeredBy,
			&startedAt,
			&completedAt,
			&total,
		); scanErr != nil {
			return nil, 0, fmt.Errorf("failed to scan import record: %w", scanErr)
		}

		record.Status = domain.ImportRecordStatus(status)
		if err := json.Unmarshal(categories, &record.Categories); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal category counts: %w", err)
		}
		if startedAt.Valid {
			record.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			record.CompletedAt = completedAt.Time
		}
		records = append(records, record)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, fmt.Errorf("failed to iterate import records: %w", rowsErr)
	}

	return records, total, nil
}

func scanImportRecord(row pgx.Row) (domain.ImportRecord, error) {
	var (
		record      domain.ImportRecord
		status      string
		categories  []byte
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&record.ID,
		&record.SourceFileID,
		&status,
		&categories,
		&record.DryRun,
		&record.TriggeredBy,
		&startedAt,
		&completedAt,
	); err != nil {
		return domain.ImportRecord{}, err
	}

	record.Status = domain.ImportRecordStatus(status)
	if err := json.Unmarshal(categories, &record.Categories); err != nil {
		return domain.ImportRecord{}, fmt.Errorf("failed to unmarshal category counts: %w", err)
	}
	if startedAt.Valid {
		record.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		record.CompletedAt = completedAt.Time
	}
	return record, nil
}
