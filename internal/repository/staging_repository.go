package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldops/opsimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type stagingRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStagingRepository wires a staging store backed by pgxpool.
func NewStagingRepository(pool *pgxpool.Pool) StagingRepository {
	return &stagingRepository{pool: pool, now: time.Now}
}

// stagedPayload is the JSONB body of a staged_files row. Everything that the
// pipeline stages mutate travels together so that one compare-and-swap covers
// the whole read-modify-write.
type stagedPayload struct {
	FileName       string                        `json:"file_name"`
	Size           int64                         `json:"size"`
	MediaType      string                        `json:"media_type"`
	RowCount       int                           `json:"row_count"`
	Columns        []string                      `json:"columns"`
	Categories     []domain.DataCategory         `json:"categories"`
	Rows           []domain.Row                  `json:"rows"`
	ParseErrors    []domain.ParseError           `json:"parse_errors"`
	UploadedBy     string                        `json:"uploaded_by"`
	Validation     *domain.ValidationOutcome     `json:"validation,omitempty"`
	Reconciliation *domain.ReconciliationOutcome `json:"reconciliation,omitempty"`
}

func (r *stagingRepository) Put(ctx context.Context, file domain.StagedFile) error {
	if r.pool == nil {
		return fmt.Errorf("staging repository not initialized")
	}

	payload, err := json.Marshal(payloadFrom(file))
	if err != nil {
		return fmt.Errorf("failed to marshal staged payload: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO staged_files (id, status, payload, version, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		file.ID,
		string(file.Status),
		payload,
		file.Version,
		file.CreatedAt,
		file.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}

	return nil
}

func (r *stagingRepository) Get(ctx context.Context, id uuid.UUID) (domain.StagedFile, error) {
	if r.pool == nil {
		return domain.StagedFile{}, fmt.Errorf("staging repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT status, payload, version, created_at, expires_at
		 FROM staged_files
		 WHERE id = $1`,
		id,
	)

	var (
		status    string
		raw       []byte
		version   int64
		createdAt pgtype.Timestamptz
		expiresAt pgtype.Timestamptz
	)
	if err := row.Scan(&status, &raw, &version, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StagedFile{}, domain.ErrFileNotFound(id)
		}
		return domain.StagedFile{}, fmt.Errorf("failed to get staged file: %w", err)
	}

	// Lazy eviction: the first read past expiry deletes the row, so the next
	// read reports not found.
	if expiresAt.Valid && r.now().After(expiresAt.Time) {
		if err := r.Delete(ctx, id); err != nil {
			return domain.StagedFile{}, fmt.Errorf("failed to evict expired file: %w", err)
		}
		return domain.StagedFile{}, domain.ErrFileExpired(id)
	}

	var payload stagedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.StagedFile{}, fmt.Errorf("failed to unmarshal staged payload: %w", err)
	}

	file := fileFrom(id, domain.ImportStatus(status), payload, version)
	if createdAt.Valid {
		file.CreatedAt = createdAt.Time
	}
	if expiresAt.Valid {
		file.ExpiresAt = expiresAt.Time
	}
	return file, nil
}

func (r *stagingRepository) Update(ctx context.Context, file domain.StagedFile) (domain.StagedFile, error) {
	if r.pool == nil {
		return domain.StagedFile{}, fmt.Errorf("staging repository not initialized")
	}

	payload, err := json.Marshal(payloadFrom(file))
	if err != nil {
		return domain.StagedFile{}, fmt.Errorf("failed to marshal staged payload: %w", err)
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE staged_files
		 SET status = $2, payload = $3, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $4`,
		file.ID,
		string(file.Status),
		payload,
		file.Version,
	)
	if err != nil {
		return domain.StagedFile{}, fmt.Errorf("failed to update staged file: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the handle is gone or another writer won the version race.
		if _, getErr := r.Get(ctx, file.ID); getErr != nil {
			return domain.StagedFile{}, getErr
		}
		return domain.StagedFile{}, domain.ErrConcurrentUpdate(file.ID)
	}

	file.Version++
	return file, nil
}

func (r *stagingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("staging repository not initialized")
	}

	if _, err := r.pool.Exec(ctx, `DELETE FROM staged_files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete staged file: %w", err)
	}
	return nil
}

func payloadFrom(file domain.StagedFile) stagedPayload {
	return stagedPayload{
		FileName:       file.FileName,
		Size:           file.Size,
		MediaType:      file.MediaType,
		RowCount:       file.RowCount,
		Columns:        file.Columns,
		Categories:     file.Categories,
		Rows:           file.Rows,
		ParseErrors:    file.ParseErrors,
		UploadedBy:     file.UploadedBy,
		Validation:     file.Validation,
		Reconciliation: file.Reconciliation,
	}
}

func fileFrom(id uuid.UUID, status domain.ImportStatus, payload stagedPayload, version int64) domain.StagedFile {
	return domain.StagedFile{
		ID:             id,
		FileName:       payload.FileName,
		Size:           payload.Size,
		MediaType:      payload.MediaType,
		RowCount:       payload.RowCount,
		Columns:        payload.Columns,
		Categories:     payload.Categories,
		Rows:           payload.Rows,
		ParseErrors:    payload.ParseErrors,
		UploadedBy:     payload.UploadedBy,
		Validation:     payload.Validation,
		Reconciliation: payload.Reconciliation,
		Status:         status,
		Version:        version,
	}
}
