package stages

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/pipeline"
	"github.com/wieslawsoltes/packagingtools/internal/signing"
	"github.com/wieslawsoltes/packagingtools/internal/utils"
)

// RepoPublishStage publishes produced deb artifacts as an apt-style
// repository under <outputDir>/_Repo. Enabled by linux.repo.enabled.
type RepoPublishStage struct {
	// Signer signs Release metadata when set; unsigned repos are allowed
	Signer signing.MetadataSigner

	// Codename for the published distribution, defaults to stable
	Codename string

	Now func() time.Time
}

// Name identifies the stage
func (s *RepoPublishStage) Name() string { return "repository" }

// Run writes Packages, Packages.gz, Packages.xz and the (optionally signed)
// Release files for every deb artifact in the current result.
func (s *RepoPublishStage) Run(ctx context.Context, fctx *pipeline.FormatContext, current *models.PackagingResult) []models.PackagingIssue {
	if !fctx.Request.BoolProperty("linux.repo.enabled") {
		return nil
	}

	var debs []models.PackagingArtifact
	for _, artifact := range current.Artifacts {
		if strings.EqualFold(artifact.Format, "deb") {
			debs = append(debs, artifact)
		}
	}
	if len(debs) == 0 {
		return []models.PackagingIssue{models.NewWarning(
			"linux.repo.no_artifacts", "Repository publish is enabled but the run produced no deb artifacts")}
	}

	codename := s.Codename
	if codename == "" {
		codename = "stable"
	}
	repoDir := filepath.Join(fctx.Request.OutputDir, "_Repo")
	binaryDir := filepath.Join("dists", codename, "main", "binary-amd64")

	for _, deb := range debs {
		target := filepath.Join(repoDir, "pool", "main", filepath.Base(deb.Path))
		if err := utils.CopyFile(deb.Path, target); err != nil {
			return []models.PackagingIssue{models.NewError(
				"linux.repo.publish_failed", "Failed to copy %s into the pool: %v", deb.Path, err)}
		}
	}

	packages, err := s.packagesIndex(debs)
	if err != nil {
		return []models.PackagingIssue{models.NewError(
			"linux.repo.publish_failed", "Failed to build package index: %v", err)}
	}

	// Plain, gzip and xz variants of the index
	indexFiles := map[string][]byte{
		filepath.Join(binaryDir, "Packages"): packages,
	}
	if gz, err := gzipCompress(packages); err == nil {
		indexFiles[filepath.Join(binaryDir, "Packages.gz")] = gz
	} else {
		return []models.PackagingIssue{models.NewError(
			"linux.repo.publish_failed", "Failed to compress package index: %v", err)}
	}
	if xzData, err := xzCompress(packages); err == nil {
		indexFiles[filepath.Join(binaryDir, "Packages.xz")] = xzData
	} else {
		return []models.PackagingIssue{models.NewError(
			"linux.repo.publish_failed", "Failed to xz-compress package index: %v", err)}
	}

	for path, data := range indexFiles {
		if err := utils.WriteFile(filepath.Join(repoDir, path), data, 0644); err != nil {
			return []models.PackagingIssue{models.NewError(
				"linux.repo.publish_failed", "Failed to write %s: %v", path, err)}
		}
	}

	release := s.releaseFile(fctx.Project, codename, indexFiles)
	distsDir := filepath.Join(repoDir, "dists", codename)
	if err := utils.WriteFile(filepath.Join(distsDir, "Release"), release, 0644); err != nil {
		return []models.PackagingIssue{models.NewError(
			"linux.repo.publish_failed", "Failed to write Release: %v", err)}
	}

	issues := []models.PackagingIssue{}
	if s.Signer != nil {
		inRelease, err := s.Signer.SignCleartext(release)
		if err != nil {
			return append(issues, models.NewError(
				"linux.repo.signing_failed", "Failed to sign Release: %v", err))
		}
		detached, err := s.Signer.SignDetached(release)
		if err != nil {
			return append(issues, models.NewError(
				"linux.repo.signing_failed", "Failed to create detached Release signature: %v", err))
		}
		if err := utils.WriteFile(filepath.Join(distsDir, "InRelease"), inRelease, 0644); err != nil {
			return append(issues, models.NewError(
				"linux.repo.publish_failed", "Failed to write InRelease: %v", err))
		}
		if err := utils.WriteFile(filepath.Join(distsDir, "Release.gpg"), detached, 0644); err != nil {
			return append(issues, models.NewError(
				"linux.repo.publish_failed", "Failed to write Release.gpg: %v", err))
		}
	} else {
		// Unsigned repos still carry InRelease so clients find one file
		if err := utils.WriteFile(filepath.Join(distsDir, "InRelease"), release, 0644); err != nil {
			return append(issues, models.NewError(
				"linux.repo.publish_failed", "Failed to write InRelease: %v", err))
		}
	}

	logrus.Infof("Published repository with %d packages to %s", len(debs), repoDir)
	return append(issues, models.NewInfo(
		"linux.repo.published", "Repository published to %s with %d packages", repoDir, len(debs)))
}

// packagesIndex builds a Packages stanza per artifact, sorted by filename
func (s *RepoPublishStage) packagesIndex(debs []models.PackagingArtifact) ([]byte, error) {
	sort.Slice(debs, func(i, j int) bool { return debs[i].Path < debs[j].Path })

	var buf bytes.Buffer
	for _, deb := range debs {
		checksum, err := utils.CalculateChecksums(deb.Path)
		if err != nil {
			return nil, fmt.Errorf("checksum %s: %w", deb.Path, err)
		}
		name := deb.Metadata["packageName"]
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(deb.Path), filepath.Ext(deb.Path))
		}
		version := deb.Metadata["version"]
		if version == "" {
			version = "0"
		}
		arch := deb.Metadata["architecture"]
		if arch == "" {
			arch = "amd64"
		}

		fmt.Fprintf(&buf, "Package: %s\n", name)
		fmt.Fprintf(&buf, "Version: %s\n", version)
		fmt.Fprintf(&buf, "Architecture: %s\n", arch)
		fmt.Fprintf(&buf, "Filename: pool/main/%s\n", filepath.Base(deb.Path))
		fmt.Fprintf(&buf, "Size: %d\n", checksum.Size)
		fmt.Fprintf(&buf, "MD5sum: %s\n", checksum.MD5)
		fmt.Fprintf(&buf, "SHA1: %s\n", checksum.SHA1)
		fmt.Fprintf(&buf, "SHA256: %s\n", checksum.SHA256)
		fmt.Fprintf(&buf, "SHA512: %s\n", checksum.SHA512)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// releaseFile builds the Release metadata with checksums over the index files
func (s *RepoPublishStage) releaseFile(project *models.PackagingProject, codename string, indexFiles map[string][]byte) []byte {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Origin: %s\n", project.Name)
	fmt.Fprintf(&buf, "Label: %s\n", project.Name)
	fmt.Fprintf(&buf, "Suite: %s\n", codename)
	fmt.Fprintf(&buf, "Codename: %s\n", codename)
	buf.WriteString("Architectures: amd64\n")
	buf.WriteString("Components: main\n")
	fmt.Fprintf(&buf, "Date: %s\n", now().UTC().Format(time.RFC1123Z))

	paths := make([]string, 0, len(indexFiles))
	for path := range indexFiles {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	buf.WriteString("MD5Sum:\n")
	for _, path := range paths {
		data := indexFiles[path]
		rel, _ := filepath.Rel(filepath.Join("dists", codename), path)
		fmt.Fprintf(&buf, " %s %d %s\n", utils.MD5Hex(data), len(data), filepath.ToSlash(rel))
	}
	buf.WriteString("SHA256:\n")
	for _, path := range paths {
		data := indexFiles[path]
		rel, _ := filepath.Rel(filepath.Join("dists", codename), path)
		fmt.Fprintf(&buf, " %s %d %s\n", utils.SHA256Hex(data), len(data), filepath.ToSlash(rel))
	}
	return buf.Bytes()
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xzCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
