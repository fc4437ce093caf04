package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "packagingtools",
		Short: "Governed multi-platform packaging orchestration",
		Long: `Packagingtools runs governed packaging pipelines: it loads a project
definition, enforces organizational policy, acquires a build agent and drives
the platform's format providers and secondary stages (sandbox capture,
repository publish, SBOM generation, audit capture).

Supported platforms: windows, mac, linux.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	rootCmd.AddCommand(NewPackageCmd())
	rootCmd.AddCommand(NewProjectCmd())
	rootCmd.AddCommand(NewStoreCmd())
	rootCmd.AddCommand(NewMaterialCmd())

	return rootCmd
}
