package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fieldops/opsimport/internal/db"
	"github.com/fieldops/opsimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type committedRecordRepository struct {
	conn *db.Connection
}

// NewCommittedRecordRepository wires the durable record store. It takes the
// connection rather than the bare pool because each category batch commits in
// one transaction.
func NewCommittedRecordRepository(conn *db.Connection) CommittedRecordRepository {
	return &committedRecordRepository{conn: conn}
}

func (r *committedRecordRepository) CommitPayroll(ctx context.Context, importID uuid.UUID, rows []domain.Row) (CommitResult, error) {
	return r.commit(ctx, "payroll_records", importID, rows)
}

func (r *committedRecordRepository) CommitBudgets(ctx context.Context, importID uuid.UUID, rows []domain.Row) (CommitResult, error) {
	return r.commit(ctx, "budget_records", importID, rows)
}

func (r *committedRecordRepository) CommitSignUps(ctx context.Context, importID uuid.UUID, rows []domain.Row) (CommitResult, error) {
	return r.commit(ctx, "signup_records", importID, rows)
}

// commit upserts one batch keyed by a content digest so that replaying the
// same source data updates rather than duplicates. The insert-vs-update split
// is read from xmax, giving exact counts. The whole batch rides one
// transaction; a mid-batch failure rolls every row back.
func (r *committedRecordRepository) commit(ctx context.Context, table string, importID uuid.UUID, rows []domain.Row) (CommitResult, error) {
	result := CommitResult{}
	if r.conn == nil || r.conn.Pool == nil {
		return result, fmt.Errorf("committed record repository not initialized")
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (natural_key, import_id, properties)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (natural_key)
		 DO UPDATE SET import_id = EXCLUDED.import_id, properties = EXCLUDED.properties, updated_at = now()
		 RETURNING (xmax = 0) AS inserted`,
		table,
	)

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		for _, row := range rows {
			if len(row) == 0 {
				result.Skipped++
				continue
			}

			properties, err := json.Marshal(row)
			if err != nil {
				result.Failed++
				continue
			}

			digest := sha256.Sum256(properties)
			key := hex.EncodeToString(digest[:])

			var inserted bool
			if err := tx.QueryRow(ctx, query, key, importID, properties).Scan(&inserted); err != nil {
				return fmt.Errorf("failed to commit row into %s: %w", table, err)
			}

			if inserted {
				result.Inserted++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		// Rolled back; none of the tallied rows landed.
		return CommitResult{}, err
	}

	return result, nil
}
