// Package stages implements the secondary pipeline stages: sandbox capture,
// repository publish, SBOM/vulnerability generation, notarization and audit
// capture. Each stage gates itself on request properties and contributes
// issues to the run result; side files land in the fixed output subfolders
// (_Audit, _Repo, _Sbom, _diagnostics) other tooling relies on.
package stages

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/pipeline"
	"github.com/wieslawsoltes/packagingtools/internal/utils"
)

// Sandbox configuration properties inspected by the capture stage
var sandboxKeys = []string{
	"linux.sandbox.apparmorProfile",
	"linux.sandbox.selinuxContext",
	"linux.sandbox.flatpakPermissions",
	"linux.sandbox.postInstallScript",
}

// SandboxStage captures the Linux sandbox/confinement configuration next to
// the produced artifacts. Enabled by linux.sandbox.enabled.
type SandboxStage struct{}

// Name identifies the stage
func (SandboxStage) Name() string { return "sandbox" }

// Run writes a sandbox profile snapshot, or warns when sandboxing is enabled
// but no confinement setting is configured.
func (SandboxStage) Run(ctx context.Context, fctx *pipeline.FormatContext, current *models.PackagingResult) []models.PackagingIssue {
	if !fctx.Request.BoolProperty("linux.sandbox.enabled") {
		return nil
	}

	snapshot := map[string]string{}
	for _, key := range sandboxKeys {
		if value, ok := fctx.Request.EffectiveProperty(fctx.Project, key); ok && value != "" {
			snapshot[key] = value
		}
	}

	if len(snapshot) == 0 {
		return []models.PackagingIssue{models.NewWarning(
			"linux.sandbox.missing_configuration",
			"Sandbox capture is enabled but no apparmorProfile, selinuxContext, flatpakPermissions or postInstallScript is configured")}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return []models.PackagingIssue{models.NewError(
			"linux.sandbox.capture_failed", "Failed to serialize sandbox snapshot: %v", err)}
	}
	path := filepath.Join(fctx.Request.OutputDir, "_Audit", "sandbox", "profile.json")
	if err := utils.WriteFile(path, data, 0644); err != nil {
		return []models.PackagingIssue{models.NewError(
			"linux.sandbox.capture_failed", "Failed to write sandbox snapshot: %v", err)}
	}

	logrus.Debugf("Captured sandbox profile to %s", path)
	return []models.PackagingIssue{models.NewInfo(
		"linux.sandbox.captured", "Sandbox profile captured to %s", path)}
}
