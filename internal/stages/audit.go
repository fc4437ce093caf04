package stages

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sassoftware/go-rpmutils"
	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/pipeline"
	"github.com/wieslawsoltes/packagingtools/internal/signing"
	"github.com/wieslawsoltes/packagingtools/internal/utils"
)

// debMagic marks a Debian archive ("!<arch>\ndebian")
var debMagic = []byte("!<arch>\ndebian")

// rpmMagic marks an RPM lead
var rpmMagic = []byte{0xED, 0xAB, 0xEE, 0xDB}

// auditRecord is the per-artifact entry in the audit manifest
type auditRecord struct {
	Format       string            `json:"format"`
	Path         string            `json:"path"`
	DetectedType string            `json:"detectedType,omitempty"`
	Size         int64             `json:"size"`
	MD5          string            `json:"md5"`
	SHA1         string            `json:"sha1"`
	SHA256       string            `json:"sha256"`
	SHA512       string            `json:"sha512"`
	PackageInfo  map[string]string `json:"packageInfo,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// auditManifest is the JSON document written under _Audit
type auditManifest struct {
	JobID      string        `json:"jobId"`
	ProjectID  string        `json:"projectId"`
	Platform   string        `json:"platform"`
	CapturedAt time.Time     `json:"capturedAt"`
	Artifacts  []auditRecord `json:"artifacts"`
	IssueCodes []string      `json:"issueCodes"`
}

// AuditStage records checksums and package metadata for every produced
// artifact, writes the audit manifest (optionally PGP-signed) under
// <outputDir>/_Audit and archives the run's diagnostics logs.
type AuditStage struct {
	// Signer creates a detached signature over the manifest when set
	Signer signing.MetadataSigner
}

// Name identifies the stage
func (s *AuditStage) Name() string { return "audit" }

// Run captures the audit evidence for the current result
func (s *AuditStage) Run(ctx context.Context, fctx *pipeline.FormatContext, current *models.PackagingResult) []models.PackagingIssue {
	var issues []models.PackagingIssue

	manifest := auditManifest{
		JobID:      fctx.JobID,
		ProjectID:  fctx.Project.ID,
		Platform:   fctx.Request.Platform,
		CapturedAt: time.Now().UTC(),
	}
	for _, issue := range current.Issues {
		manifest.IssueCodes = append(manifest.IssueCodes, issue.Code)
	}

	for _, artifact := range current.Artifacts {
		record, err := s.describe(artifact)
		if err != nil {
			issues = append(issues, models.NewWarning(
				"audit.artifact_unreadable", "Could not audit artifact %s: %v", artifact.Path, err))
			continue
		}
		manifest.Artifacts = append(manifest.Artifacts, *record)
	}

	auditDir := filepath.Join(fctx.Request.OutputDir, "_Audit")
	data, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return append(issues, models.NewError(
			"audit.capture_failed", "Failed to serialize audit manifest: %v", err))
	}
	manifestPath := filepath.Join(auditDir, "manifest.json")
	if err := utils.WriteFile(manifestPath, data, 0644); err != nil {
		return append(issues, models.NewError(
			"audit.capture_failed", "Failed to write audit manifest: %v", err))
	}

	if s.Signer != nil {
		signature, err := s.Signer.SignDetached(data)
		if err != nil {
			issues = append(issues, models.NewError(
				"audit.signing_failed", "Failed to sign audit manifest: %v", err))
		} else if err := utils.WriteFile(manifestPath+".asc", signature, 0644); err != nil {
			issues = append(issues, models.NewError(
				"audit.signing_failed", "Failed to write audit manifest signature: %v", err))
		}
	}

	if archivePath, err := s.archiveDiagnostics(fctx.WorkDir, auditDir); err == nil && archivePath != "" {
		logrus.Debugf("Archived diagnostics to %s", archivePath)
	}

	return append(issues, models.NewInfo(
		"audit.captured", "Audit manifest written to %s", manifestPath))
}

// describe builds the audit record for one artifact, sniffing the payload
// type and pulling package metadata out of rpm headers where possible
func (s *AuditStage) describe(artifact models.PackagingArtifact) (*auditRecord, error) {
	checksum, err := utils.CalculateChecksums(artifact.Path)
	if err != nil {
		return nil, err
	}
	record := &auditRecord{
		Format:   artifact.Format,
		Path:     artifact.Path,
		Size:     checksum.Size,
		MD5:      checksum.MD5,
		SHA1:     checksum.SHA1,
		SHA256:   checksum.SHA256,
		SHA512:   checksum.SHA512,
		Metadata: artifact.Metadata,
	}

	header := make([]byte, 512)
	f, err := os.Open(artifact.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	n, _ := f.Read(header)
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, debMagic):
		record.DetectedType = "deb"
	case bytes.HasPrefix(header, rpmMagic):
		record.DetectedType = "rpm"
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if rpm, rpmErr := rpmutils.ReadRpm(f); rpmErr == nil {
				record.PackageInfo = map[string]string{
					"name":    headerString(rpm, rpmutils.NAME),
					"version": headerString(rpm, rpmutils.VERSION),
					"release": headerString(rpm, rpmutils.RELEASE),
					"arch":    headerString(rpm, rpmutils.ARCH),
				}
			}
		}
	}
	return record, nil
}

// archiveDiagnostics packs the run's diagnostics directory into a
// zstd-compressed tar next to the manifest
func (s *AuditStage) archiveDiagnostics(diagDir, auditDir string) (string, error) {
	entries, err := os.ReadDir(diagDir)
	if err != nil || len(entries) == 0 {
		return "", err
	}

	archivePath := filepath.Join(auditDir, "diagnostics.tar.zst")
	if err := utils.EnsureDir(auditDir); err != nil {
		return "", err
	}
	out, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return "", err
	}
	tw := tar.NewWriter(zw)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(diagDir, entry.Name()))
		if err != nil {
			continue
		}
		hdr := &tar.Header{
			Name:    entry.Name(),
			Mode:    0644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return "", err
		}
		if _, err := tw.Write(data); err != nil {
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return archivePath, nil
}

// headerString reads a string tag from an rpm header, tolerating the mixed
// value types rpmutils returns
func headerString(rpm *rpmutils.Rpm, tag int) string {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case []string:
		if len(v) > 0 {
			return v[0]
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// compile-time interface checks for the stage set
var (
	_ pipeline.Stage = (*AuditStage)(nil)
	_ pipeline.Stage = (*SbomStage)(nil)
	_ pipeline.Stage = (*VulnScanStage)(nil)
	_ pipeline.Stage = (*RepoPublishStage)(nil)
	_ pipeline.Stage = SandboxStage{}
)
