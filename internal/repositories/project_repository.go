package repositories

import (
	"context"

	"bimhub-api/internal/database"
	"bimhub-api/internal/models"
	"bimhub-api/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ProjectRepository struct {
	db *database.DB
}

func NewProjectRepository(db *database.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// NextNumber allocates the next sequential display number for an organization.
// Read-max-plus-one inside the caller's transaction; concurrent finalizations
// for the same organization can still race on it (see DESIGN.md).
func (r *ProjectRepository) NextNumber(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) (int, error) {
	var number int
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM projects WHERE org_id = $1`,
		orgID,
	).Scan(&number)
	if err != nil {
		return 0, errors.WrapError(err, "INTERNAL_ERROR", "Failed to allocate project number", errors.ErrInternalServer.Status)
	}
	return number, nil
}

// Create inserts the project row inside the finalization transaction and
// reads back the generated timestamps.
func (r *ProjectRepository) Create(ctx context.Context, tx pgx.Tx, project *models.Project) error {
	query := `
		INSERT INTO projects (id, org_id, number, name, description, status, file_count, categories, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		project.ID, project.OrgID, project.Number, project.Name, project.Description,
		project.Status, project.FileCount, project.Categories, project.CreatedBy,
	).Scan(&project.CreatedAt, &project.UpdatedAt)

	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to create project", errors.ErrInternalServer.Status)
	}
	return nil
}

// SetCurrentModel points the project at its primary model.
func (r *ProjectRepository) SetCurrentModel(ctx context.Context, tx pgx.Tx, projectID, modelID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE projects SET current_model_id = $1, updated_at = NOW() WHERE id = $2`,
		modelID, projectID,
	)
	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to set current model", errors.ErrInternalServer.Status)
	}
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	project := &models.Project{}
	query := `
		SELECT id, org_id, number, name, description, status, file_count, categories,
			current_model_id, created_by, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&project.ID, &project.OrgID, &project.Number, &project.Name, &project.Description,
		&project.Status, &project.FileCount, &project.Categories,
		&project.CurrentModelID, &project.CreatedBy, &project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to get project", errors.ErrInternalServer.Status)
	}
	return project, nil
}
