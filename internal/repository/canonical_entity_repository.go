package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldops/opsimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type canonicalEntityRepository struct {
	pool *pgxpool.Pool
}

// NewCanonicalEntityRepository wires canonical identity lookups backed by pgxpool.
func NewCanonicalEntityRepository(pool *pgxpool.Pool) CanonicalEntityRepository {
	return &canonicalEntityRepository{pool: pool}
}

func (r *canonicalEntityRepository) ListByType(ctx context.Context, entityType domain.EntityType) ([]CanonicalEntity, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("canonical entity repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, entity_type, name
		 FROM canonical_entities
		 WHERE entity_type = $1 AND active
		 ORDER BY name`,
		string(entityType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical entities: %w", err)
	}
	defer rows.Close()

	entities := []CanonicalEntity{}
	for rows.Next() {
		var (
			entity  CanonicalEntity
			rawType string
		)
		if scanErr := rows.Scan(&entity.ID, &rawType, &entity.Name); scanErr != nil {
			return nil, fmt.Errorf("failed to scan canonical entity: %w", scanErr)
		}
		entity.Type = domain.EntityType(rawType)
		entities = append(entities, entity)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate canonical entities: %w", rowsErr)
	}

	return entities, nil
}

func (r *canonicalEntityRepository) Create(ctx context.Context, entityType domain.EntityType, name string) (CanonicalEntity, error) {
	if r.pool == nil {
		return CanonicalEntity{}, fmt.Errorf("canonical entity repository not initialized")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return CanonicalEntity{}, fmt.Errorf("entity name is required")
	}

	entity := CanonicalEntity{
		ID:   uuid.New(),
		Type: entityType,
		Name: name,
	}

	// Normalized name dedupes concurrent creations of the same discovery.
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO canonical_entities (id, entity_type, name, normalized_name, active)
		 VALUES ($1, $2, $3, lower($3), TRUE)
		 ON CONFLICT (entity_type, normalized_name) DO NOTHING`,
		entity.ID,
		string(entityType),
		name,
	)
	if err != nil {
		return CanonicalEntity{}, fmt.Errorf("failed to create canonical entity: %w", err)
	}

	return entity, nil
}
