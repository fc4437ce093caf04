// Package signing manages signing material (entitlements, provisioning
// profiles, certificates): secure-store resolution, per-run materialization
// and rotation tracking, plus PGP signing of repository and audit metadata.
package signing

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/securestore"
)

// Material kinds. An entry's kind tag must match the requested kind exactly;
// cross-use (entitlements as a provisioning profile) is a hard error.
const (
	KindMacEntitlements        = "mac.entitlements"
	KindMacProvisioningProfile = "mac.provisioningProfile"
	KindSigningCertificate     = "signing.certificate"
	KindGPGKey                 = "linux.gpgKey"
)

// RotationWindow is how long before expiry a rotation warning is raised
const RotationWindow = 21 * 24 * time.Hour

// MaterialContext carries what Prepare needs to resolve one piece of material
type MaterialContext struct {
	Project *models.PackagingProject
	Request *models.PackagingRequest
	Kind    string
	WorkDir string
}

// Material is the outcome of preparing one piece of signing material. Path is
// set whenever a payload was materialized, even for expired material, so the
// caller can inspect it; Issues carries expiry and rotation diagnostics.
type Material struct {
	Kind   string
	Path   string
	Issues []models.PackagingIssue
}

// Service prepares signing material for packaging runs
type Service struct {
	store *securestore.Store
	now   func() time.Time
}

// NewService creates a signing material service backed by the secure store
func NewService(store *securestore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// NewServiceAt creates a service with a fixed clock, for tests
func NewServiceAt(store *securestore.Store, now func() time.Time) *Service {
	return &Service{store: store, now: now}
}

// Prepare resolves signing material for the given kind and materializes it
// into the run's working directory. The material source is either a secure
// store entry id (<kind>.storeEntryId) or a legacy filesystem path
// (<kind>.path), resolved through the request/project/platform settings chain.
func (s *Service) Prepare(mctx MaterialContext) (*Material, error) {
	material := &Material{Kind: mctx.Kind}

	entryID, hasEntry := mctx.Request.EffectiveProperty(mctx.Project, mctx.Kind+".storeEntryId")
	legacyPath, hasPath := mctx.Request.EffectiveProperty(mctx.Project, mctx.Kind+".path")

	switch {
	case hasEntry && entryID != "":
		secret, err := s.store.TryGet(entryID)
		if err != nil {
			return nil, err
		}
		if secret == nil {
			material.Issues = append(material.Issues, models.NewError(
				"signing.material.not_found",
				"Secure store entry %s for %s was not found", entryID, mctx.Kind))
			return material, nil
		}
		if secret.Entry.Kind() != mctx.Kind {
			material.Issues = append(material.Issues, models.NewError(
				"signing.material.kind_mismatch",
				"Secure store entry %s has kind %q, expected %q", entryID, secret.Entry.Kind(), mctx.Kind))
			return material, nil
		}

		path := filepath.Join(mctx.WorkDir, securestore.SanitizeID(entryID))
		if err := os.MkdirAll(mctx.WorkDir, 0700); err != nil {
			return nil, &models.PackagingError{Type: models.ErrSigning, Err: err}
		}
		if err := os.WriteFile(path, secret.Payload, 0600); err != nil {
			return nil, &models.PackagingError{Type: models.ErrSigning, Err: err}
		}
		material.Path = path
		material.Issues = append(material.Issues, s.evaluateExpiry(mctx.Kind, &secret.Entry)...)

	case hasPath && legacyPath != "":
		if _, err := os.Stat(legacyPath); err != nil {
			material.Issues = append(material.Issues, models.NewError(
				"signing.material.not_found",
				"Signing material file %s for %s is not readable: %v", legacyPath, mctx.Kind, err))
			return material, nil
		}
		material.Path = legacyPath
		logrus.Debugf("Using legacy filesystem signing material for %s: %s", mctx.Kind, legacyPath)

	default:
		material.Issues = append(material.Issues, models.NewError(
			"signing.material.not_configured",
			"No secure store entry or file path configured for %s", mctx.Kind))
	}

	return material, nil
}

// evaluateExpiry classifies an entry as expired, rotation-due or healthy
func (s *Service) evaluateExpiry(kind string, entry *securestore.Entry) []models.PackagingIssue {
	if entry.ExpiresAt == nil {
		return nil
	}
	now := s.now()
	expires := *entry.ExpiresAt

	if !expires.After(now) {
		return []models.PackagingIssue{models.NewError(
			"signing.material.expired",
			"Signing material %s (%s) expired at %s", entry.ID, kind, expires.UTC().Format(time.RFC3339))}
	}
	if remaining := expires.Sub(now); remaining <= RotationWindow {
		days := int(remaining.Hours() / 24)
		return []models.PackagingIssue{models.NewWarning(
			"signing.material.rotation_due",
			"Signing material %s (%s) expires in %d days; rotate it", entry.ID, kind, days)}
	}
	return nil
}

// Rotate replaces the payload of an existing entry with fresh material,
// keeping its kind tag and setting a new expiry.
func (s *Service) Rotate(id string, payload []byte, expiresAt time.Time) (*securestore.Entry, error) {
	existing, err := s.store.TryGet(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, &models.PackagingError{Type: models.ErrSigning, Err: fmt.Errorf("cannot rotate unknown entry %s", id)}
	}
	return s.store.Put(id, payload, securestore.Options{
		ExpiresAt: &expiresAt,
		Metadata:  existing.Entry.Metadata,
	})
}
