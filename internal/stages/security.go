package stages

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/pipeline"
)

// SbomGenerator produces a software bill of materials for the run's
// artifacts. Implementations are external collaborators.
type SbomGenerator interface {
	// Generate writes the SBOM and returns its path
	Generate(ctx context.Context, fctx *pipeline.FormatContext, artifacts []models.PackagingArtifact) (string, error)
}

// VulnerabilityScanner checks the run's artifacts for known vulnerabilities
type VulnerabilityScanner interface {
	// Scan returns one issue per finding; severity is the scanner's call
	Scan(ctx context.Context, fctx *pipeline.FormatContext, artifacts []models.PackagingArtifact) ([]models.PackagingIssue, error)
}

// SbomStage runs the configured SBOM generator. Enabled by
// security.sbom.enabled; SBOMs land under <outputDir>/_Sbom.
type SbomStage struct {
	Generator SbomGenerator
}

// Name identifies the stage
func (s *SbomStage) Name() string { return "sbom" }

// Run generates the SBOM over the current artifacts
func (s *SbomStage) Run(ctx context.Context, fctx *pipeline.FormatContext, current *models.PackagingResult) []models.PackagingIssue {
	if !fctx.Request.BoolProperty("security.sbom.enabled") {
		return nil
	}
	if s.Generator == nil {
		return []models.PackagingIssue{models.NewWarning(
			"security.sbom.unavailable", "SBOM generation is enabled but no generator is configured")}
	}

	path, err := s.Generator.Generate(ctx, fctx, current.Artifacts)
	if err != nil {
		return []models.PackagingIssue{models.NewError(
			"security.sbom.failed", "SBOM generation failed: %v", err)}
	}
	logrus.Debugf("SBOM generated at %s", path)
	return []models.PackagingIssue{models.NewInfo(
		"security.sbom.generated", "SBOM generated at %s", path)}
}

// VulnScanStage runs the configured vulnerability scanner. Enabled by
// security.scan.enabled.
type VulnScanStage struct {
	Scanner VulnerabilityScanner
}

// Name identifies the stage
func (s *VulnScanStage) Name() string { return "vulnscan" }

// Run scans the current artifacts and forwards the scanner's findings
func (s *VulnScanStage) Run(ctx context.Context, fctx *pipeline.FormatContext, current *models.PackagingResult) []models.PackagingIssue {
	if !fctx.Request.BoolProperty("security.scan.enabled") {
		return nil
	}
	if s.Scanner == nil {
		return []models.PackagingIssue{models.NewWarning(
			"security.scan.unavailable", "Vulnerability scanning is enabled but no scanner is configured")}
	}

	findings, err := s.Scanner.Scan(ctx, fctx, current.Artifacts)
	if err != nil {
		return []models.PackagingIssue{models.NewError(
			"security.scan.failed", "Vulnerability scan failed: %v", err)}
	}
	return findings
}
