package pipeline

import (
	"sync"

	"github.com/wieslawsoltes/packagingtools/internal/models"
)

// collector aggregates artifacts and issues from concurrently running
// providers. Plain slices are not safe for the fan-out, so every append goes
// through the mutex.
type collector struct {
	mu        sync.Mutex
	artifacts []models.PackagingArtifact
	issues    []models.PackagingIssue
}

func (c *collector) addArtifacts(artifacts []models.PackagingArtifact) {
	if len(artifacts) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts = append(c.artifacts, artifacts...)
}

func (c *collector) addIssues(issues []models.PackagingIssue) {
	if len(issues) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issues = append(c.issues, issues...)
}

// result computes a PackagingResult snapshot over everything collected so far
func (c *collector) result() *models.PackagingResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.NewResult(
		append([]models.PackagingArtifact(nil), c.artifacts...),
		append([]models.PackagingIssue(nil), c.issues...),
	)
}
