package stages

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/notary"
	"github.com/wieslawsoltes/packagingtools/internal/pipeline"
	"github.com/wieslawsoltes/packagingtools/internal/runner"
)

func stageContext(t *testing.T, platform string, properties map[string]string) *pipeline.FormatContext {
	t.Helper()
	if properties == nil {
		properties = map[string]string{}
	}
	outputDir := t.TempDir()
	return &pipeline.FormatContext{
		Project: &models.PackagingProject{ID: "demo", Name: "Demo", Version: "2.0.0", Metadata: map[string]string{}},
		Request: &models.PackagingRequest{
			ProjectID:  "demo",
			Platform:   platform,
			OutputDir:  outputDir,
			Properties: properties,
		},
		JobID:   "job-1",
		WorkDir: filepath.Join(outputDir, "_diagnostics", "job-1"),
	}
}

func writeArtifact(t *testing.T, dir, name string, content []byte) models.PackagingArtifact {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))
	format := strings.TrimPrefix(filepath.Ext(name), ".")
	return models.PackagingArtifact{
		Format:   format,
		Path:     path,
		Metadata: map[string]string{"packageName": "demo", "version": "2.0.0"},
	}
}

// fakeSigner marks its output so file contents are easy to assert on
type fakeSigner struct{ fail bool }

func (s *fakeSigner) SignCleartext(data []byte) ([]byte, error) {
	if s.fail {
		return nil, errors.New("no key material")
	}
	return append([]byte("-----BEGIN PGP SIGNED MESSAGE-----\n"), data...), nil
}

func (s *fakeSigner) SignDetached(data []byte) ([]byte, error) {
	if s.fail {
		return nil, errors.New("no key material")
	}
	return []byte("-----BEGIN PGP SIGNATURE-----\nfake\n-----END PGP SIGNATURE-----\n"), nil
}

func (s *fakeSigner) PublicKey() ([]byte, error) { return []byte("fake public key"), nil }

func TestSandboxStageSkipsWhenDisabled(t *testing.T) {
	fctx := stageContext(t, "linux", nil)
	issues := SandboxStage{}.Run(context.Background(), fctx, models.NewResult(nil, nil))
	assert.Empty(t, issues)
}

func TestSandboxStageWarnsWithoutConfiguration(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{"linux.sandbox.enabled": "true"})
	issues := SandboxStage{}.Run(context.Background(), fctx, models.NewResult(nil, nil))

	require.Len(t, issues, 1)
	assert.Equal(t, "linux.sandbox.missing_configuration", issues[0].Code)
	assert.Equal(t, models.SeverityWarning, issues[0].Severity)
}

func TestSandboxStageCapturesProfile(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{
		"linux.sandbox.enabled":         "true",
		"linux.sandbox.apparmorProfile": "demo-profile",
	})
	issues := SandboxStage{}.Run(context.Background(), fctx, models.NewResult(nil, nil))

	require.Len(t, issues, 1)
	assert.Equal(t, "linux.sandbox.captured", issues[0].Code)

	data, err := os.ReadFile(filepath.Join(fctx.Request.OutputDir, "_Audit", "sandbox", "profile.json"))
	require.NoError(t, err)
	var snapshot map[string]string
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, "demo-profile", snapshot["linux.sandbox.apparmorProfile"])
}

func TestRepoPublishWarnsWithoutDebArtifacts(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{"linux.repo.enabled": "true"})
	stage := &RepoPublishStage{}

	issues := stage.Run(context.Background(), fctx, models.NewResult(nil, nil))
	require.Len(t, issues, 1)
	assert.Equal(t, "linux.repo.no_artifacts", issues[0].Code)
	assert.Equal(t, models.SeverityWarning, issues[0].Severity)
}

func TestRepoPublishWritesUnsignedRepository(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{"linux.repo.enabled": "true"})
	deb := writeArtifact(t, fctx.Request.OutputDir, "demo_2.0.0_amd64.deb", []byte("deb payload"))
	stage := &RepoPublishStage{Now: func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }}

	issues := stage.Run(context.Background(), fctx, models.NewResult([]models.PackagingArtifact{deb}, nil))
	require.Len(t, issues, 1)
	assert.Equal(t, "linux.repo.published", issues[0].Code)

	assert.FileExists(t, filepath.Join(fctx.Request.OutputDir, "_Repo", "pool", "main", "demo_2.0.0_amd64.deb"))

	binaryDir := filepath.Join(fctx.Request.OutputDir, "_Repo", "dists", "stable", "main", "binary-amd64")
	packages, err := os.ReadFile(filepath.Join(binaryDir, "Packages"))
	require.NoError(t, err)
	assert.Contains(t, string(packages), "Package: demo\n")
	assert.Contains(t, string(packages), "Version: 2.0.0\n")
	assert.Contains(t, string(packages), "Filename: pool/main/demo_2.0.0_amd64.deb\n")

	// Packages.gz round-trips to the plain index
	gzData, err := os.Open(filepath.Join(binaryDir, "Packages.gz"))
	require.NoError(t, err)
	defer gzData.Close()
	gr, err := gzip.NewReader(gzData)
	require.NoError(t, err)
	decompressed, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, packages, decompressed)

	assert.FileExists(t, filepath.Join(binaryDir, "Packages.xz"))

	distsDir := filepath.Join(fctx.Request.OutputDir, "_Repo", "dists", "stable")
	release, err := os.ReadFile(filepath.Join(distsDir, "Release"))
	require.NoError(t, err)
	assert.Contains(t, string(release), "Codename: stable\n")
	assert.Contains(t, string(release), "SHA256:\n")
	assert.Contains(t, string(release), "main/binary-amd64/Packages\n")

	// Unsigned repos still expose InRelease, but never Release.gpg
	inRelease, err := os.ReadFile(filepath.Join(distsDir, "InRelease"))
	require.NoError(t, err)
	assert.Equal(t, release, inRelease)
	assert.NoFileExists(t, filepath.Join(distsDir, "Release.gpg"))
}

func TestRepoPublishSignsReleaseWhenSignerConfigured(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{"linux.repo.enabled": "true"})
	deb := writeArtifact(t, fctx.Request.OutputDir, "demo_2.0.0_amd64.deb", []byte("deb payload"))
	stage := &RepoPublishStage{Signer: &fakeSigner{}, Codename: "noble"}

	issues := stage.Run(context.Background(), fctx, models.NewResult([]models.PackagingArtifact{deb}, nil))
	require.Len(t, issues, 1)
	assert.Equal(t, "linux.repo.published", issues[0].Code)

	distsDir := filepath.Join(fctx.Request.OutputDir, "_Repo", "dists", "noble")
	inRelease, err := os.ReadFile(filepath.Join(distsDir, "InRelease"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(inRelease), "-----BEGIN PGP SIGNED MESSAGE-----"))
	assert.FileExists(t, filepath.Join(distsDir, "Release.gpg"))
}

func TestRepoPublishReportsSigningFailure(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{"linux.repo.enabled": "true"})
	deb := writeArtifact(t, fctx.Request.OutputDir, "demo_2.0.0_amd64.deb", []byte("deb payload"))
	stage := &RepoPublishStage{Signer: &fakeSigner{fail: true}}

	issues := stage.Run(context.Background(), fctx, models.NewResult([]models.PackagingArtifact{deb}, nil))
	require.Len(t, issues, 1)
	assert.Equal(t, "linux.repo.signing_failed", issues[0].Code)
	assert.Equal(t, models.SeverityError, issues[0].Severity)
}

func TestSbomStageRequiresGenerator(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{"security.sbom.enabled": "true"})
	stage := &SbomStage{}

	issues := stage.Run(context.Background(), fctx, models.NewResult(nil, nil))
	require.Len(t, issues, 1)
	assert.Equal(t, "security.sbom.unavailable", issues[0].Code)
	assert.Equal(t, models.SeverityWarning, issues[0].Severity)
}

type staticSbom struct{ path string }

func (s staticSbom) Generate(ctx context.Context, fctx *pipeline.FormatContext, artifacts []models.PackagingArtifact) (string, error) {
	return s.path, nil
}

func TestSbomStageReportsGeneratedPath(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{"security.sbom.enabled": "true"})
	stage := &SbomStage{Generator: staticSbom{path: "/tmp/sbom.json"}}

	issues := stage.Run(context.Background(), fctx, models.NewResult(nil, nil))
	require.Len(t, issues, 1)
	assert.Equal(t, "security.sbom.generated", issues[0].Code)
	assert.Contains(t, issues[0].Message, "/tmp/sbom.json")
}

type staticScanner struct{ findings []models.PackagingIssue }

func (s staticScanner) Scan(ctx context.Context, fctx *pipeline.FormatContext, artifacts []models.PackagingArtifact) ([]models.PackagingIssue, error) {
	return s.findings, nil
}

func TestVulnScanStageForwardsFindings(t *testing.T) {
	fctx := stageContext(t, "linux", map[string]string{"security.scan.enabled": "true"})
	stage := &VulnScanStage{Scanner: staticScanner{findings: []models.PackagingIssue{
		models.NewWarning("security.scan.finding", "CVE-2026-0001 in liba"),
	}}}

	issues := stage.Run(context.Background(), fctx, models.NewResult(nil, nil))
	require.Len(t, issues, 1)
	assert.Equal(t, "security.scan.finding", issues[0].Code)
}

// notaryScript replays a fixed accepted-after-one-poll notarization exchange
type notaryScript struct {
	infoCalls int
}

func (r *notaryScript) Execute(ctx context.Context, spec runner.Spec) (*runner.Result, error) {
	joined := strings.Join(spec.Args, " ")
	switch {
	case strings.Contains(joined, "submit"):
		return &runner.Result{Stdout: `{"id": "req-1", "status": "In Progress"}`}, nil
	case strings.Contains(joined, "info"):
		r.infoCalls++
		return &runner.Result{Stdout: `{"id": "req-1", "status": "Accepted"}`}, nil
	case strings.Contains(joined, "log"):
		return &runner.Result{Stdout: "log body"}, nil
	default:
		return &runner.Result{}, nil
	}
}

func TestNotarizeStageStampsArtifactMetadata(t *testing.T) {
	fctx := stageContext(t, "mac", map[string]string{"mac.notarize.enabled": "true"})
	dmg := writeArtifact(t, fctx.Request.OutputDir, "demo.dmg", []byte("disk image"))
	zip := writeArtifact(t, fctx.Request.OutputDir, "demo.zip", []byte("not notarizable"))
	current := models.NewResult([]models.PackagingArtifact{dmg, zip}, nil)

	script := &notaryScript{}
	stage := &NotarizeStage{NewClient: func(fctx *pipeline.FormatContext) *notary.Client {
		return notary.NewClient(notary.Config{
			Tool:            "xcrun",
			ToolArgs:        []string{"notarytool"},
			PollInterval:    time.Millisecond,
			MaxPollAttempts: 5,
			LogDir:          fctx.WorkDir,
		}, script)
	}}

	issues := stage.Run(context.Background(), fctx, current)
	assert.False(t, models.HasErrors(issues))
	assert.Equal(t, 1, script.infoCalls)

	stamped := current.Artifacts[0].Metadata
	assert.Equal(t, "req-1", stamped["notarizationRequestId"])
	assert.Equal(t, notary.StatusAccepted, stamped["notarizationStatus"])
	assert.Equal(t, "true", stamped["stapled"])
	assert.NotEmpty(t, stamped["notarizationLog"])

	// Non-notarizable formats are left untouched
	assert.NotContains(t, current.Artifacts[1].Metadata, "notarizationStatus")
}

func TestAuditStageWritesManifestWithDetectedTypes(t *testing.T) {
	fctx := stageContext(t, "linux", nil)
	deb := writeArtifact(t, fctx.Request.OutputDir, "demo.deb", append([]byte("!<arch>\ndebian"), []byte("-binary rest")...))
	opaque := writeArtifact(t, fctx.Request.OutputDir, "demo.appimage", []byte("ELF-ish payload"))
	current := models.NewResult(
		[]models.PackagingArtifact{deb, opaque},
		[]models.PackagingIssue{models.NewWarning("deb.lintian", "remarks")})

	stage := &AuditStage{}
	issues := stage.Run(context.Background(), fctx, current)
	require.Len(t, issues, 1)
	assert.Equal(t, "audit.captured", issues[0].Code)

	data, err := os.ReadFile(filepath.Join(fctx.Request.OutputDir, "_Audit", "manifest.json"))
	require.NoError(t, err)
	var manifest struct {
		JobID      string   `json:"jobId"`
		ProjectID  string   `json:"projectId"`
		IssueCodes []string `json:"issueCodes"`
		Artifacts  []struct {
			Format       string `json:"format"`
			DetectedType string `json:"detectedType"`
			SHA256       string `json:"sha256"`
			Size         int64  `json:"size"`
		} `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "job-1", manifest.JobID)
	assert.Equal(t, "demo", manifest.ProjectID)
	assert.Equal(t, []string{"deb.lintian"}, manifest.IssueCodes)
	require.Len(t, manifest.Artifacts, 2)
	assert.Equal(t, "deb", manifest.Artifacts[0].DetectedType)
	assert.Empty(t, manifest.Artifacts[1].DetectedType)
	assert.NotEmpty(t, manifest.Artifacts[0].SHA256)
	assert.Positive(t, manifest.Artifacts[0].Size)
}

func TestAuditStageSignsManifest(t *testing.T) {
	fctx := stageContext(t, "linux", nil)
	deb := writeArtifact(t, fctx.Request.OutputDir, "demo.deb", []byte("payload"))

	stage := &AuditStage{Signer: &fakeSigner{}}
	issues := stage.Run(context.Background(), fctx, models.NewResult([]models.PackagingArtifact{deb}, nil))
	require.Len(t, issues, 1)
	assert.Equal(t, "audit.captured", issues[0].Code)
	assert.FileExists(t, filepath.Join(fctx.Request.OutputDir, "_Audit", "manifest.json.asc"))
}

func TestAuditStageWarnsOnMissingArtifactFile(t *testing.T) {
	fctx := stageContext(t, "linux", nil)
	ghost := models.PackagingArtifact{Format: "deb", Path: filepath.Join(fctx.Request.OutputDir, "missing.deb")}

	stage := &AuditStage{}
	issues := stage.Run(context.Background(), fctx, models.NewResult([]models.PackagingArtifact{ghost}, nil))
	require.Len(t, issues, 2)
	assert.Equal(t, "audit.artifact_unreadable", issues[0].Code)
	assert.Equal(t, models.SeverityWarning, issues[0].Severity)
	assert.Equal(t, "audit.captured", issues[1].Code)
}
