package repositories

import "bimhub-api/internal/database"

// Repositories holds all repository instances
type Repositories struct {
	Project *ProjectRepository
	Member  *MemberRepository
	Model   *ModelRepository
	Panel   *PanelRepository
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Project: NewProjectRepository(db),
		Member:  NewMemberRepository(db),
		Model:   NewModelRepository(db),
		Panel:   NewPanelRepository(db),
	}
}
