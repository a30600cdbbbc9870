package pipeline

import (
	"context"
	"fmt"
	"os"

	"bimhub-api/internal/convert"
	"bimhub-api/internal/database"
	"bimhub-api/internal/models"
	"bimhub-api/internal/repositories"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CompletedFile is one successfully converted input handed to finalization,
// in original upload order.
type CompletedFile struct {
	ArtifactName string
	Category     string
	ArtifactPath string
	Meta         convert.Metadata
}

// Finalizer turns a set of completed file artifacts into a persisted project.
type Finalizer interface {
	Finalize(ctx context.Context, base models.ProjectBase, files []CompletedFile) (*models.ProjectSummary, error)
}

// ObjectStore is the durable storage the engine uploads artifacts to.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	GenerateKey(projectID, modelID uuid.UUID, filename string) string
}

const fragmentContentType = "application/octet-stream"

// Engine runs the one-shot transactional sequence that materializes a
// project: project row with its per-organization number, owner membership,
// one model row per file, artifact uploads, derived panels, current-model
// pointer. Database work is all-or-nothing; storage uploads inside the loop
// are best-effort on crash (see DESIGN.md).
type Engine struct {
	db     *database.DB
	store  ObjectStore
	repos  *repositories.Repositories
	logger zerolog.Logger
}

func NewEngine(db *database.DB, store ObjectStore, repos *repositories.Repositories, logger zerolog.Logger) *Engine {
	return &Engine{
		db:     db,
		store:  store,
		repos:  repos,
		logger: logger.With().Str("component", "finalizer").Logger(),
	}
}

func (e *Engine) Finalize(ctx context.Context, base models.ProjectBase, files []CompletedFile) (*models.ProjectSummary, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin finalization transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	number, err := e.repos.Project.NextNumber(ctx, tx, base.OrgID)
	if err != nil {
		return nil, err
	}

	categories := make([]string, 0, len(files))
	seen := make(map[string]bool)
	for _, f := range files {
		if f.Category != "" && !seen[f.Category] {
			seen[f.Category] = true
			categories = append(categories, f.Category)
		}
	}

	project := &models.Project{
		ID:          uuid.New(),
		OrgID:       base.OrgID,
		Number:      number,
		Name:        base.Name,
		Description: base.Description,
		Status:      base.Status,
		FileCount:   len(files),
		Categories:  categories,
		CreatedBy:   base.OwnerID,
	}
	if err := e.repos.Project.Create(ctx, tx, project); err != nil {
		return nil, err
	}

	member := &models.ProjectMember{
		ID:        uuid.New(),
		ProjectID: project.ID,
		UserID:    base.OwnerID,
		Role:      models.RoleOwner,
	}
	if err := e.repos.Member.Create(ctx, tx, member); err != nil {
		return nil, err
	}

	var firstModelID uuid.UUID
	for i, f := range files {
		model := &models.Model{
			ID:        uuid.New(),
			ProjectID: project.ID,
			Name:      f.ArtifactName,
			Category:  f.Category,
		}
		// Provisional key until the real ids are known.
		model.StorageKey = "pending/" + model.ID.String()
		if err := e.repos.Model.Create(ctx, tx, model); err != nil {
			return nil, err
		}
		if i == 0 {
			firstModelID = model.ID
		}

		artifact, err := os.ReadFile(f.ArtifactPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact for %s: %w", f.ArtifactName, err)
		}

		key := e.store.GenerateKey(project.ID, model.ID, f.ArtifactName)
		if err := e.store.Upload(ctx, key, artifact, fragmentContentType); err != nil {
			return nil, err
		}
		if err := e.repos.Model.UpdateStorage(ctx, tx, model.ID, key, int64(len(artifact))); err != nil {
			return nil, err
		}

		elementCount := f.Meta.ElementCount
		if len(f.Meta.Spatial) > 0 {
			panels, tally := derivePanels(model.ID, f.Meta.Spatial)
			if err := e.repos.Panel.BulkCreate(ctx, tx, panels); err != nil {
				return nil, err
			}
			if tally > elementCount {
				elementCount = tally
			}
		}
		if err := e.repos.Model.UpdateElementCount(ctx, tx, model.ID, elementCount); err != nil {
			return nil, err
		}
	}

	if err := e.repos.Project.SetCurrentModel(ctx, tx, project.ID, firstModelID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit finalization: %w", err)
	}

	// Temp artifacts only go away once the commit stuck, so a failed
	// finalization can be retried from the same inputs. Errors are logged
	// and swallowed.
	for _, f := range files {
		if err := os.Remove(f.ArtifactPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn().Err(err).Str("path", f.ArtifactPath).Msg("failed to remove temp artifact")
		}
	}

	e.logger.Info().
		Str("project_id", project.ID.String()).
		Int("models", len(files)).
		Int("number", project.Number).
		Msg("project finalized")

	return &models.ProjectSummary{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		ModelCount:  len(files),
	}, nil
}

// derivePanels flattens a spatial hierarchy into panel rows and tallies the
// distinct element ids they cover.
func derivePanels(modelID uuid.UUID, spatial []convert.SpatialNode) ([]*models.Panel, int) {
	panels := make([]*models.Panel, 0, len(spatial))
	elements := make(map[int64]bool)
	for _, node := range spatial {
		if node.Name == "" && len(node.ElementIDs) == 0 {
			continue
		}
		panels = append(panels, &models.Panel{
			ID:         uuid.New(),
			ModelID:    modelID,
			Name:       node.Name,
			Level:      node.Level,
			ElementIDs: node.ElementIDs,
		})
		for _, id := range node.ElementIDs {
			elements[id] = true
		}
	}
	return panels, len(elements)
}
