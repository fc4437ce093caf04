package models

import "strings"

// PlatformConfiguration holds the per-platform section of a project:
// the ordered list of installer formats to build plus platform properties.
type PlatformConfiguration struct {
	Formats    []string          `yaml:"formats"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// PackagingProject is the immutable project definition: identity, version,
// case-insensitive metadata and one configuration block per target platform.
// Mutation always produces a new instance; callers never share writable state.
type PackagingProject struct {
	ID        string                           `yaml:"id"`
	Name      string                           `yaml:"name"`
	Version   string                           `yaml:"version"`
	Metadata  map[string]string                `yaml:"metadata,omitempty"`
	Platforms map[string]PlatformConfiguration `yaml:"platforms,omitempty"`
}

// MetadataValue performs a case-insensitive metadata lookup
func (p *PackagingProject) MetadataValue(key string) (string, bool) {
	for k, v := range p.Metadata {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Platform performs a case-insensitive platform configuration lookup
func (p *PackagingProject) Platform(name string) (PlatformConfiguration, bool) {
	for k, v := range p.Platforms {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return PlatformConfiguration{}, false
}

// Clone returns a deep copy suitable for snapshots and rollback
func (p *PackagingProject) Clone() *PackagingProject {
	clone := &PackagingProject{
		ID:        p.ID,
		Name:      p.Name,
		Version:   p.Version,
		Metadata:  make(map[string]string, len(p.Metadata)),
		Platforms: make(map[string]PlatformConfiguration, len(p.Platforms)),
	}
	for k, v := range p.Metadata {
		clone.Metadata[k] = v
	}
	for k, v := range p.Platforms {
		pc := PlatformConfiguration{
			Formats:    append([]string(nil), v.Formats...),
			Properties: make(map[string]string, len(v.Properties)),
		}
		for pk, pv := range v.Properties {
			pc.Properties[pk] = pv
		}
		clone.Platforms[k] = pc
	}
	return clone
}

// WithMetadata returns a copy of the project with one metadata entry replaced
func (p *PackagingProject) WithMetadata(key, value string) *PackagingProject {
	clone := p.Clone()
	for k := range clone.Metadata {
		if strings.EqualFold(k, key) {
			delete(clone.Metadata, k)
		}
	}
	clone.Metadata[key] = value
	return clone
}
