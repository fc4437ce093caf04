package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wieslawsoltes/packagingtools/internal/config"
	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/projectstore"
)

// NewProjectCmd creates the project command group
func NewProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect project definitions",
	}
	cmd.AddCommand(newProjectShowCmd())
	return cmd
}

func newProjectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Print a project definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store := projectstore.NewFileStore(cfg.ProjectDir)
			project, err := store.TryLoad(args[0])
			if err != nil {
				return err
			}
			if project == nil {
				return &models.PackagingError{
					Type: models.ErrProjectLoad,
					Err:  fmt.Errorf("project %s was not found", args[0]),
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Id:      %s\n", project.ID)
			fmt.Fprintf(out, "Name:    %s\n", project.Name)
			fmt.Fprintf(out, "Version: %s\n", project.Version)

			if len(project.Metadata) > 0 {
				fmt.Fprintln(out, "Metadata:")
				keys := make([]string, 0, len(project.Metadata))
				for k := range project.Metadata {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s: %s\n", k, project.Metadata[k])
				}
			}
			for platform, pc := range project.Platforms {
				fmt.Fprintf(out, "Platform %s: formats=%v\n", platform, pc.Formats)
			}
			return nil
		},
	}
}
