package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is a materialized BIM project. A row only ever exists after every
// input file of its upload has been converted successfully.
type Project struct {
	ID             uuid.UUID  `json:"id"`
	OrgID          uuid.UUID  `json:"org_id"`
	Number         int        `json:"number"` // sequential per organization
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	FileCount      int        `json:"file_count"`
	Categories     []string   `json:"categories"`
	CurrentModelID *uuid.UUID `json:"current_model_id,omitempty"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ProjectMember links a user to a project with a role.
type ProjectMember struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

const RoleOwner = "owner"

// Model is one converted fragment artifact belonging to a project.
type Model struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	StorageKey   string    `json:"storage_key"`
	SizeBytes    int64     `json:"size_bytes"`
	ElementCount int       `json:"element_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Panel is a secondary record derived from a model's spatial hierarchy.
type Panel struct {
	ID         uuid.UUID `json:"id"`
	ModelID    uuid.UUID `json:"model_id"`
	Name       string    `json:"name"`
	Level      int       `json:"level"`
	ElementIDs []int64   `json:"element_ids"`
}

// ProjectBase is the immutable snapshot of the intended project captured when
// an upload is enqueued.
type ProjectBase struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	OwnerID     uuid.UUID `json:"owner_id"`
	OrgID       uuid.UUID `json:"org_id"`
}

// ProjectSummary is what a finished upload reports back to the client.
type ProjectSummary struct {
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name"`
	ModelCount  int       `json:"model_count"`
}
