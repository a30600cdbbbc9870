package repositories

import (
	"context"

	"bimhub-api/internal/database"
	"bimhub-api/internal/models"
	"bimhub-api/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ModelRepository struct {
	db *database.DB
}

func NewModelRepository(db *database.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

// Create inserts a model row with its provisional storage key. The final key
// depends on the generated ids, so it is filled in by UpdateStorage after the
// artifact upload.
func (r *ModelRepository) Create(ctx context.Context, tx pgx.Tx, model *models.Model) error {
	query := `
		INSERT INTO models (id, project_id, name, category, storage_key, size_bytes, element_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := tx.QueryRow(ctx, query,
		model.ID, model.ProjectID, model.Name, model.Category,
		model.StorageKey, model.SizeBytes, model.ElementCount,
	).Scan(&model.CreatedAt)

	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to create model", errors.ErrInternalServer.Status)
	}
	return nil
}

// UpdateStorage records the final storage key and uploaded byte size.
func (r *ModelRepository) UpdateStorage(ctx context.Context, tx pgx.Tx, id uuid.UUID, storageKey string, sizeBytes int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE models SET storage_key = $1, size_bytes = $2 WHERE id = $3`,
		storageKey, sizeBytes, id,
	)
	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to update model storage", errors.ErrInternalServer.Status)
	}
	return nil
}

// UpdateElementCount persists the element tally derived from panel extraction.
func (r *ModelRepository) UpdateElementCount(ctx context.Context, tx pgx.Tx, id uuid.UUID, count int) error {
	_, err := tx.Exec(ctx,
		`UPDATE models SET element_count = $1 WHERE id = $2`,
		count, id,
	)
	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to update model element count", errors.ErrInternalServer.Status)
	}
	return nil
}

func (r *ModelRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Model, error) {
	query := `
		SELECT id, project_id, name, category, storage_key, size_bytes, element_count, created_at
		FROM models
		WHERE project_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to list models", errors.ErrInternalServer.Status)
	}
	defer rows.Close()

	var list []*models.Model
	for rows.Next() {
		m := &models.Model{}
		if err := rows.Scan(
			&m.ID, &m.ProjectID, &m.Name, &m.Category,
			&m.StorageKey, &m.SizeBytes, &m.ElementCount, &m.CreatedAt,
		); err != nil {
			return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to scan model", errors.ErrInternalServer.Status)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
