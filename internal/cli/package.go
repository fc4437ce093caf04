package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wieslawsoltes/packagingtools/internal/config"
	"github.com/wieslawsoltes/packagingtools/internal/identity"
	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/pipeline"
	"github.com/wieslawsoltes/packagingtools/internal/projectstore"
	"github.com/wieslawsoltes/packagingtools/internal/providers"
	"github.com/wieslawsoltes/packagingtools/internal/securestore"
	"github.com/wieslawsoltes/packagingtools/internal/signing"
	"github.com/wieslawsoltes/packagingtools/internal/stages"
	"github.com/wieslawsoltes/packagingtools/internal/telemetry"
)

// NewPackageCmd creates the package command
func NewPackageCmd() *cobra.Command {
	var (
		projectID  string
		platform   string
		formats    []string
		outputDir  string
		confLabel  string
		properties []string
	)

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Run a packaging pipeline",
		Long: `Loads the project, evaluates policy, acquires a build agent and runs
the requested format providers plus the platform's secondary stages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return &models.PackagingError{Type: models.ErrInvalidConfig, Err: err}
			}
			if projectID == "" {
				return &models.PackagingError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("--project is required")}
			}
			if len(formats) == 0 {
				return &models.PackagingError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("--format is required")}
			}
			if outputDir == "" {
				outputDir = cfg.OutputDir
			}

			request := &models.PackagingRequest{
				ProjectID:     projectID,
				Platform:      platform,
				Formats:       formats,
				Configuration: confLabel,
				OutputDir:     outputDir,
				Properties:    parseProperties(properties),
			}

			p := buildPipeline(cfg, platform, formats)

			logrus.Infof("Starting %s packaging run for project %s...", platform, projectID)
			result := p.Execute(cmd.Context(), request)
			reportResult(result)

			if !result.Success {
				return &models.PackagingError{
					Type: models.ErrProvider,
					Err:  fmt.Errorf("packaging run finished with %d blocking issues", result.BlockingIssueCount()),
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project id to package")
	cmd.Flags().StringVar(&platform, "platform", "linux", "Target platform (windows, mac, linux)")
	cmd.Flags().StringSliceVarP(&formats, "format", "f", nil, "Installer formats to build (e.g. deb,rpm)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Output directory")
	cmd.Flags().StringVar(&confLabel, "configuration", "Release", "Configuration label")
	cmd.Flags().StringArrayVar(&properties, "set", nil, "Request property overrides (key=value)")

	return cmd
}

// buildPipeline wires the platform pipeline with its fixed stage order
func buildPipeline(cfg *config.Config, platform string, formats []string) *pipeline.Pipeline {
	registry := pipeline.NewRegistry()
	for _, format := range formats {
		registry.Register(providers.NewCommandProvider(format))
	}

	store := securestore.New(cfg.StoreDir)
	signer := metadataSigner(store)

	var stageList []pipeline.Stage
	switch strings.ToLower(platform) {
	case "linux":
		stageList = []pipeline.Stage{
			stages.SandboxStage{},
			&stages.RepoPublishStage{Signer: signer},
			&stages.SbomStage{},
			&stages.VulnScanStage{},
			&stages.AuditStage{Signer: signer},
		}
	case "mac":
		stageList = []pipeline.Stage{
			&stages.NotarizeStage{},
			&stages.SbomStage{},
			&stages.VulnScanStage{},
			&stages.AuditStage{Signer: signer},
		}
	default:
		stageList = []pipeline.Stage{
			&stages.SbomStage{},
			&stages.VulnScanStage{},
			&stages.AuditStage{Signer: signer},
		}
	}

	p := pipeline.New(platform, projectstore.NewFileStore(cfg.ProjectDir), registry, stageList...)
	p.Identity = identity.NewService(&identity.DirectoryProvider{
		Key:   "directory",
		Store: store,
		Authenticate: func(ctx context.Context, req identity.Request) (*identity.Result, error) {
			return nil, fmt.Errorf("no directory backend configured")
		},
	})
	p.Telemetry = telemetry.LogChannel{}
	return p
}

// metadataSigner loads the repository/audit signing key from the secure
// store when one is configured; signing is optional.
func metadataSigner(store *securestore.Store) signing.MetadataSigner {
	secret, err := store.TryGet("metadata.signing.key")
	if err != nil || secret == nil {
		return nil
	}
	signer, err := signing.NewPGPSigner(secret.Payload, "")
	if err != nil {
		logrus.Warnf("Metadata signing key is unusable: %v", err)
		return nil
	}
	return signer
}

func parseProperties(pairs []string) map[string]string {
	props := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			logrus.Warnf("Ignoring malformed property %q (expected key=value)", pair)
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props
}

func reportResult(result *models.PackagingResult) {
	for _, issue := range result.Issues {
		switch issue.Severity {
		case models.SeverityError:
			logrus.Errorf("[%s] %s", issue.Code, issue.Message)
		case models.SeverityWarning:
			logrus.Warnf("[%s] %s", issue.Code, issue.Message)
		default:
			logrus.Infof("[%s] %s", issue.Code, issue.Message)
		}
	}
	for _, artifact := range result.Artifacts {
		logrus.Infof("Artifact (%s): %s", artifact.Format, artifact.Path)
	}
	if result.Success {
		logrus.Info("Packaging run completed successfully!")
	}
}
