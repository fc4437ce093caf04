// Package projectstore loads and saves packaging project definitions. The
// on-disk format is one YAML file per project; other persistence backends can
// replace this by implementing Store.
package projectstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wieslawsoltes/packagingtools/internal/models"
)

// Store loads project definitions by id
type Store interface {
	// TryLoad returns the project, or nil when the id is unknown
	TryLoad(projectID string) (*models.PackagingProject, error)
}

// FileStore keeps one <id>.yaml per project under a root directory
type FileStore struct {
	root string
}

// NewFileStore creates a YAML-backed project store
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// TryLoad reads and parses the project file; a missing file is a nil project
func (s *FileStore) TryLoad(projectID string) (*models.PackagingProject, error) {
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.PackagingError{Type: models.ErrProjectLoad, Err: err}
	}

	var project models.PackagingProject
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, &models.PackagingError{Type: models.ErrProjectLoad, Err: fmt.Errorf("invalid project file for %s: %w", projectID, err)}
	}
	if project.ID == "" {
		project.ID = projectID
	}
	if project.Metadata == nil {
		project.Metadata = map[string]string{}
	}
	return &project, nil
}

// Save writes the project, replacing any previous definition wholesale
func (s *FileStore) Save(project *models.PackagingProject) error {
	if project.ID == "" {
		return &models.PackagingError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("project id is required")}
	}
	data, err := yaml.Marshal(project)
	if err != nil {
		return &models.PackagingError{Type: models.ErrProjectLoad, Err: err}
	}
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return &models.PackagingError{Type: models.ErrFileOp, Err: err}
	}
	if err := os.WriteFile(s.path(project.ID), data, 0644); err != nil {
		return &models.PackagingError{Type: models.ErrFileOp, Err: err}
	}
	return nil
}

func (s *FileStore) path(projectID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, projectID)
	return filepath.Join(s.root, safe+".yaml")
}

// MemoryStore serves projects from a map, for tests and embedding
type MemoryStore struct {
	Projects map[string]*models.PackagingProject
}

// TryLoad returns a clone so callers cannot mutate the stored project
func (s *MemoryStore) TryLoad(projectID string) (*models.PackagingProject, error) {
	project, ok := s.Projects[projectID]
	if !ok {
		return nil, nil
	}
	return project.Clone(), nil
}
