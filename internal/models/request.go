package models

import "strings"

// PackagingRequest describes a single packaging run. Property overrides layer
// on top of project metadata for the duration of the run; they are never
// written back into the project.
type PackagingRequest struct {
	ProjectID     string
	Platform      string
	Formats       []string
	Configuration string
	OutputDir     string
	Properties    map[string]string
}

// Property performs a case-insensitive lookup in the request overrides
func (r *PackagingRequest) Property(key string) (string, bool) {
	for k, v := range r.Properties {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// BoolProperty reports whether a request property is set to a truthy value
func (r *PackagingRequest) BoolProperty(key string) bool {
	value, ok := r.Property(key)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// EffectiveProperty resolves a setting through the three-tier chain:
// request properties, then project metadata, then platform configuration.
func (r *PackagingRequest) EffectiveProperty(project *PackagingProject, key string) (string, bool) {
	if value, ok := r.Property(key); ok {
		return value, true
	}
	if project == nil {
		return "", false
	}
	if value, ok := project.MetadataValue(key); ok {
		return value, true
	}
	if platform, ok := project.Platform(r.Platform); ok {
		for k, v := range platform.Properties {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return "", false
}
