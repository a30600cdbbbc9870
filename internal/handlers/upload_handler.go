package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"bimhub-api/internal/models"
	"bimhub-api/internal/pipeline"
	"bimhub-api/pkg/errors"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ifcHeaderMagic = "ISO-10303-21"

// projectData is the client-supplied snapshot of the project to create once
// processing succeeds.
type projectData struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type UploadHandler struct {
	pipeline Pipeline
	tempDir  string
	maxBytes int64
}

func NewUploadHandler(p Pipeline, tempDir string, maxBytes int64) *UploadHandler {
	return &UploadHandler{pipeline: p, tempDir: tempDir, maxBytes: maxBytes}
}

// Enqueue handles POST /api/uploads. It accepts one or more model files plus
// a projectData JSON part, validates and stages them to temp storage, and
// returns the job id immediately; all heavy work happens in the pipeline.
func (h *UploadHandler) Enqueue() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, orgID, err := identityFrom(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		}

		files := form.File["files[]"]
		if len(files) == 0 {
			files = form.File["files"]
		}
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})
			return
		}

		var pd projectData
		raw := c.PostForm("projectData")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "projectData is required"})
			return
		}
		if err := json.Unmarshal([]byte(raw), &pd); err != nil || pd.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "projectData must be JSON with a name"})
			return
		}
		if pd.Status == "" {
			pd.Status = "active"
		}
		categories := form.Value["categories[]"]

		base := models.ProjectBase{
			Name:        pd.Name,
			Description: pd.Description,
			Status:      pd.Status,
			OwnerID:     ownerID,
			OrgID:       orgID,
		}

		staged := make([]pipeline.UploadFile, 0, len(files))
		for i, header := range files {
			tempPath, err := h.stageFile(header)
			if err != nil {
				// Reject the whole request before anything enters the
				// pipeline; clean up files staged so far.
				for _, s := range staged {
					os.Remove(s.TempPath)
				}
				if appErr, ok := err.(*errors.AppError); ok {
					c.JSON(appErr.Status, gin.H{"error": appErr.Message, "file": header.Filename})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
				return
			}
			category := ""
			if i < len(categories) {
				category = categories[i]
			}
			staged = append(staged, pipeline.UploadFile{
				FileName: header.Filename,
				TempPath: tempPath,
				Category: category,
			})
		}

		var jobID string
		if len(staged) == 1 {
			jobID = h.pipeline.EnqueueSingle(pipeline.SingleUpload{
				FileName: staged[0].FileName,
				TempPath: staged[0].TempPath,
				Category: staged[0].Category,
				Base:     base,
			})
		} else {
			jobID = h.pipeline.EnqueueMulti(pipeline.MultiUpload{
				Base:  base,
				Files: staged,
			})
		}

		c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
	}
}

// stageFile validates one uploaded file and writes it to temp storage.
// Input errors are rejected here and never reach the worker pool.
func (h *UploadHandler) stageFile(header *multipart.FileHeader) (string, error) {
	if header.Size > h.maxBytes {
		return "", errors.ErrPayloadTooLarge
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".ifc" && ext != ".frag" {
		return "", errors.ErrUnsupportedFileType
	}

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	// IFC files are STEP text and always open with the ISO-10303-21 header;
	// anything else behind an .ifc extension is rejected up front rather
	// than after a long conversion attempt.
	if ext == ".ifc" && !strings.HasPrefix(string(head), ifcHeaderMagic) {
		return "", errors.ErrUnsupportedFileType
	}
	if mt := mimetype.Detect(head); mt.Is("application/zip") || strings.HasPrefix(mt.String(), "image/") {
		return "", errors.ErrUnsupportedFileType
	}

	dst, err := os.CreateTemp(h.tempDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := dst.Write(head); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return dst.Name(), nil
}

// identityFrom reads the authenticated identity. Authentication itself is an
// upstream concern; by the time requests reach this service the gateway has
// resolved the caller into these headers.
func identityFrom(c *gin.Context) (ownerID, orgID uuid.UUID, err error) {
	ownerID, err = uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("X-User-ID header is required")
	}
	orgID, err = uuid.Parse(c.GetHeader("X-Org-ID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("X-Org-ID header is required")
	}
	return ownerID, orgID, nil
}
