package handlers

import (
	"context"
	"net/http"

	"bimhub-api/internal/models"
	"bimhub-api/internal/repositories"
	"bimhub-api/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ArtifactStore is the read side of durable model storage.
type ArtifactStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

type ProjectHandler struct {
	repos *repositories.Repositories
	store ArtifactStore
}

func NewProjectHandler(repos *repositories.Repositories, store ArtifactStore) *ProjectHandler {
	return &ProjectHandler{repos: repos, store: store}
}

// Get handles GET /api/projects/:id: the project row plus its models, the
// read a client does after an upload job reports its project id.
func (h *ProjectHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
			return
		}

		project, err := h.repos.Project.GetByID(c.Request.Context(), id)
		if err != nil {
			respondRepoError(c, err)
			return
		}
		list, err := h.repos.Model.ListByProject(c.Request.Context(), id)
		if err != nil {
			respondRepoError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"project": project, "models": list})
	}
}

// DownloadModel handles GET /api/projects/:id/models/:modelId/file, streaming
// the stored fragment artifact.
func (h *ProjectHandler) DownloadModel() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
			return
		}
		modelID, err := uuid.Parse(c.Param("modelId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model id"})
			return
		}

		list, err := h.repos.Model.ListByProject(c.Request.Context(), projectID)
		if err != nil {
			respondRepoError(c, err)
			return
		}
		var model *models.Model
		for _, m := range list {
			if m.ID == modelID {
				model = m
				break
			}
		}
		if model == nil {
			c.JSON(http.StatusNotFound, errors.ErrorResponse{
				Error:   errors.ErrNotFound.Code,
				Message: "Model not found",
			})
			return
		}

		artifact, err := h.store.Download(c.Request.Context(), model.StorageKey)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch model artifact"})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+model.Name+`"`)
		c.Data(http.StatusOK, "application/octet-stream", artifact)
	}
}

func respondRepoError(c *gin.Context, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		c.JSON(appErr.Status, errors.ErrorResponse{Error: appErr.Code, Message: appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
