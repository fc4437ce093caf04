package signing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/securestore"
)

func materialFixture(t *testing.T, expiresAt *time.Time) (*securestore.Store, MaterialContext) {
	t.Helper()
	store := securestore.New(t.TempDir())

	_, err := store.Put("ent-prod", []byte("<plist>entitlements</plist>"), securestore.Options{
		ExpiresAt: expiresAt,
		Metadata:  map[string]string{securestore.KindTag: KindMacEntitlements},
	})
	require.NoError(t, err)

	project := &models.PackagingProject{
		ID:   "demo",
		Name: "Demo",
		Metadata: map[string]string{
			KindMacEntitlements + ".storeEntryId": "ent-prod",
		},
	}
	request := &models.PackagingRequest{ProjectID: "demo", Platform: "mac"}

	return store, MaterialContext{
		Project: project,
		Request: request,
		Kind:    KindMacEntitlements,
		WorkDir: t.TempDir(),
	}
}

func TestPrepareHealthyMaterialIsSilent(t *testing.T) {
	expires := time.Now().Add(90 * 24 * time.Hour)
	store, mctx := materialFixture(t, &expires)

	svc := NewService(store)
	material, err := svc.Prepare(mctx)
	require.NoError(t, err)

	assert.Empty(t, material.Issues)
	assert.FileExists(t, material.Path)

	payload, err := os.ReadFile(material.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("<plist>entitlements</plist>"), payload)
}

func TestPrepareInsideRotationWindowWarns(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(10 * 24 * time.Hour)
	store, mctx := materialFixture(t, &expires)

	svc := NewServiceAt(store, func() time.Time { return now })
	material, err := svc.Prepare(mctx)
	require.NoError(t, err)

	require.Len(t, material.Issues, 1)
	issue := material.Issues[0]
	assert.Equal(t, models.SeverityWarning, issue.Severity)
	assert.Equal(t, "signing.material.rotation_due", issue.Code)
	assert.Contains(t, issue.Message, "10 days")
}

func TestPrepareExpiredMaterialErrorsButMaterializes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(-time.Second)
	store, mctx := materialFixture(t, &expires)

	svc := NewServiceAt(store, func() time.Time { return now })
	material, err := svc.Prepare(mctx)
	require.NoError(t, err)

	require.Len(t, material.Issues, 1)
	issue := material.Issues[0]
	assert.Equal(t, models.SeverityError, issue.Severity)
	assert.Equal(t, "signing.material.expired", issue.Code)

	// Expired material is still written out so it can be inspected
	assert.FileExists(t, material.Path)
}

func TestPrepareKindMismatchIsHardError(t *testing.T) {
	expires := time.Now().Add(90 * 24 * time.Hour)
	store, mctx := materialFixture(t, &expires)
	mctx.Kind = KindMacProvisioningProfile
	mctx.Project.Metadata[KindMacProvisioningProfile+".storeEntryId"] = "ent-prod"

	svc := NewService(store)
	material, err := svc.Prepare(mctx)
	require.NoError(t, err)

	require.Len(t, material.Issues, 1)
	assert.Equal(t, "signing.material.kind_mismatch", material.Issues[0].Code)
	assert.Equal(t, models.SeverityError, material.Issues[0].Severity)
	assert.Empty(t, material.Path)
}

func TestPrepareLegacyFilesystemPath(t *testing.T) {
	store := securestore.New(t.TempDir())

	legacy := filepath.Join(t.TempDir(), "entitlements.plist")
	require.NoError(t, os.WriteFile(legacy, []byte("legacy"), 0600))

	project := &models.PackagingProject{
		ID:       "demo",
		Metadata: map[string]string{KindMacEntitlements + ".path": legacy},
	}
	request := &models.PackagingRequest{ProjectID: "demo", Platform: "mac"}

	svc := NewService(store)
	material, err := svc.Prepare(MaterialContext{
		Project: project, Request: request, Kind: KindMacEntitlements, WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Empty(t, material.Issues)
	assert.Equal(t, legacy, material.Path)
}

func TestPrepareUnconfiguredMaterial(t *testing.T) {
	store := securestore.New(t.TempDir())
	project := &models.PackagingProject{ID: "demo", Metadata: map[string]string{}}
	request := &models.PackagingRequest{ProjectID: "demo", Platform: "mac"}

	svc := NewService(store)
	material, err := svc.Prepare(MaterialContext{
		Project: project, Request: request, Kind: KindMacEntitlements, WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, material.Issues, 1)
	assert.Equal(t, "signing.material.not_configured", material.Issues[0].Code)
}
