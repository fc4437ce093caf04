package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/wieslawsoltes/packagingtools/internal/agent"
	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/runner"
)

// FormatContext is what a format provider or secondary stage gets to work
// with: the loaded project, the request, a per-run working directory and the
// agent-aware process runner bound to the run's execution scope.
type FormatContext struct {
	Project *models.PackagingProject
	Request *models.PackagingRequest
	JobID   string
	WorkDir string
	Runner  runner.Runner
	Scope   *agent.Scope
}

// FormatProvider produces one installer format. Implementations live outside
// the core (WiX builders, bundle builders, deb/rpm builders) and plug in
// through the registry.
type FormatProvider interface {
	// Format returns the format tag this provider produces (e.g. "msi", "deb")
	Format() string

	// Package builds the artifact(s) for this format
	Package(ctx context.Context, fctx *FormatContext) ([]models.PackagingArtifact, []models.PackagingIssue, error)
}

// Registry maps format names to providers, case-insensitively
type Registry struct {
	mu        sync.RWMutex
	providers map[string]FormatProvider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]FormatProvider)}
}

// Register adds a provider, replacing any previous provider for the format
func (r *Registry) Register(p FormatProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Format())] = p
}

// Resolve returns the providers matching the requested formats. Unmatched
// format names are returned separately so the caller can report them.
func (r *Registry) Resolve(formats []string) (matched []FormatProvider, unmatched []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, format := range formats {
		if p, ok := r.providers[strings.ToLower(format)]; ok {
			matched = append(matched, p)
		} else {
			unmatched = append(unmatched, format)
		}
	}
	return matched, unmatched
}

// Formats lists the registered format names, sorted
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]string, 0, len(r.providers))
	for format := range r.providers {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}
