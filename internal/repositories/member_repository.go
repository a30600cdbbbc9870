package repositories

import (
	"context"

	"bimhub-api/internal/database"
	"bimhub-api/internal/models"
	"bimhub-api/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type MemberRepository struct {
	db *database.DB
}

func NewMemberRepository(db *database.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Create inserts a project membership inside the finalization transaction.
func (r *MemberRepository) Create(ctx context.Context, tx pgx.Tx, member *models.ProjectMember) error {
	query := `
		INSERT INTO project_members (id, project_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := tx.QueryRow(ctx, query,
		member.ID, member.ProjectID, member.UserID, member.Role,
	).Scan(&member.CreatedAt)

	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to create project member", errors.ErrInternalServer.Status)
	}
	return nil
}
