package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wieslawsoltes/packagingtools/internal/config"
	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/projectstore"
	"github.com/wieslawsoltes/packagingtools/internal/signing"
)

// NewMaterialCmd creates the material command group for signing-material
// preparation and rotation hygiene
func NewMaterialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "material",
		Short: "Prepare and rotate signing material",
	}
	cmd.AddCommand(newMaterialPrepareCmd(), newMaterialRotateCmd())
	return cmd
}

func newMaterialPrepareCmd() *cobra.Command {
	var (
		projectID  string
		platform   string
		kind       string
		workDir    string
		properties []string
	)
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Resolve signing material for a project and materialize it",
		Long: `Resolves the configured signing material (secure store entry or legacy
file path) through the request/project/platform settings chain and writes it
into the working directory, reporting expiry and rotation diagnostics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return &models.PackagingError{Type: models.ErrInvalidConfig, Err: err}
			}
			if projectID == "" {
				return &models.PackagingError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("--project is required")}
			}

			project, err := projectstore.NewFileStore(cfg.ProjectDir).TryLoad(projectID)
			if err != nil {
				return err
			}
			if project == nil {
				return &models.PackagingError{Type: models.ErrProjectLoad, Err: fmt.Errorf("project %s was not found", projectID)}
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			request := &models.PackagingRequest{
				ProjectID:  projectID,
				Platform:   platform,
				Properties: parseProperties(properties),
			}
			material, err := signing.NewService(store).Prepare(signing.MaterialContext{
				Project: project,
				Request: request,
				Kind:    kind,
				WorkDir: workDir,
			})
			if err != nil {
				return err
			}

			for _, issue := range material.Issues {
				switch issue.Severity {
				case models.SeverityError:
					logrus.Errorf("[%s] %s", issue.Code, issue.Message)
				case models.SeverityWarning:
					logrus.Warnf("[%s] %s", issue.Code, issue.Message)
				default:
					logrus.Infof("[%s] %s", issue.Code, issue.Message)
				}
			}
			if material.Path != "" {
				fmt.Fprintln(cmd.OutOrStdout(), material.Path)
			}
			if models.HasErrors(material.Issues) {
				return &models.PackagingError{
					Type: models.ErrSigning,
					Err:  fmt.Errorf("signing material for %s is not usable", kind),
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project id")
	cmd.Flags().StringVar(&platform, "platform", "linux", "Target platform (windows, mac, linux)")
	cmd.Flags().StringVar(&kind, "kind", signing.KindGPGKey, "Material kind (e.g. mac.entitlements, linux.gpgKey)")
	cmd.Flags().StringVar(&workDir, "work-dir", ".", "Directory to materialize into")
	cmd.Flags().StringArrayVar(&properties, "set", nil, "Request property overrides (key=value)")

	return cmd
}

func newMaterialRotateCmd() *cobra.Command {
	var (
		sourceFile string
		expiresIn  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "rotate <entry-id>",
		Short: "Replace an entry's payload with fresh material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			payload, err := os.ReadFile(sourceFile)
			if err != nil {
				return err
			}
			entry, err := signing.NewService(store).Rotate(args[0], payload, time.Now().UTC().Add(expiresIn))
			if err != nil {
				return err
			}
			logrus.Infof("Rotated %s, valid until %s", entry.ID, entry.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceFile, "file", "", "File holding the replacement payload")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 8760*time.Hour, "Validity window for the rotated material")
	cmd.MarkFlagRequired("file")

	return cmd
}
