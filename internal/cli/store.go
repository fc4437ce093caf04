package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wieslawsoltes/packagingtools/internal/config"
	"github.com/wieslawsoltes/packagingtools/internal/securestore"
)

// NewStoreCmd creates the store command group for secure-store maintenance
func NewStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the secure signing-material store",
	}
	cmd.AddCommand(newStoreListCmd(), newStorePutCmd(), newStoreDeleteCmd())
	return cmd
}

func newStoreListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secure store entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			entries, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, entry := range entries {
				expires := "never"
				if entry.ExpiresAt != nil {
					expires = entry.ExpiresAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s\tkind=%s\texpires=%s\n", entry.ID, entry.Kind(), expires)
			}
			return nil
		},
	}
}

func newStorePutCmd() *cobra.Command {
	var (
		kind       string
		expiresIn  time.Duration
		sourceFile string
	)
	cmd := &cobra.Command{
		Use:   "put <entry-id>",
		Short: "Encrypt and store signing material",
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
			opts := securestore.Options{
				Metadata: map[string]string{securestore.KindTag: kind},
			}
			if expiresIn > 0 {
				expires := time.Now().UTC().Add(expiresIn)
				opts.ExpiresAt = &expires
			}
			if _, err := store.Put(args[0], payload, opts); err != nil {
				return err
			}
			logrus.Infof("Stored %s (%d bytes)", args[0], len(payload))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Material kind tag (e.g. mac.entitlements)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Validity window (e.g. 8760h); zero means no expiry")
	cmd.Flags().StringVar(&sourceFile, "file", "", "File holding the payload to encrypt")
	cmd.MarkFlagRequired("kind")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newStoreDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete a secure store entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			logrus.Infof("Deleted %s", args[0])
			return nil
		},
	}
}

func openStore() (*securestore.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return securestore.New(cfg.StoreDir), nil
}
