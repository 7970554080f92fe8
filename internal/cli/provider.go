package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/cvetools"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
)

func newProviderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Run or populate the bundled vulnerability tool provider",
	}
	cmd.AddCommand(newProviderServeCmd())
	cmd.AddCommand(newProviderImportCmd())
	return cmd
}

func newProviderServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the record query tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			logging.Logger().Info("serving record tools over stdio", "store", cfg.Store.Path)
			return cvetools.Serve(cmd.Context(), store, cvetools.Options{Version: Version})
		},
	}
}

func newProviderImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load vulnerability records from a JSON or JSONC file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open records file: %w", err)
			}
			defer f.Close()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			total, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records into %s (%d total).\n", n, cfg.Store.Path, total)
			return err
		},
	}
}
