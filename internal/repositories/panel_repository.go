package repositories

import (
	"context"

	"bimhub-api/internal/database"
	"bimhub-api/internal/models"
	"bimhub-api/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type PanelRepository struct {
	db *database.DB
}

func NewPanelRepository(db *database.DB) *PanelRepository {
	return &PanelRepository{db: db}
}

// BulkCreate inserts the panels derived from one model's spatial hierarchy.
// Uses COPY since a large model can produce thousands of panels.
func (r *PanelRepository) BulkCreate(ctx context.Context, tx pgx.Tx, panels []*models.Panel) error {
	if len(panels) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(panels))
	for _, p := range panels {
		rows = append(rows, []interface{}{p.ID, p.ModelID, p.Name, p.Level, p.ElementIDs})
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"panels"},
		[]string{"id", "model_id", "name", "level", "element_ids"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to bulk insert panels", errors.ErrInternalServer.Status)
	}
	return nil
}
