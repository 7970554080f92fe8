// Package cli wires Cobra subcommands to application dependencies; it is a thin controller with no business logic.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/vulnagent/internal/bootstrap"
	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
	"github.com/neoclaw-ai/vulnagent/internal/provider"
)

var providerFactory = provider.NewProviderFromConfig

// NewRootCmd creates the root command and registers all subcommands.
func NewRootCmd() *cobra.Command {
	var verbose, debug bool

	root := &cobra.Command{
		Use:   "vulnagent",
		Short: "Answer vulnerability questions with an LLM and MCP tool providers",
		// Let main handle fatal error rendering through structured logs.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case debug:
				logging.SetLevel(slog.LevelDebug)
			case verbose:
				logging.SetLevel(slog.LevelInfo)
			default:
				logging.SetLevel(slog.LevelWarn)
			}

			// config and version only print; they never create the home tree.
			if cmd.Name() == "config" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			created, err := bootstrap.Initialize(cfg)
			if err != nil {
				return err
			}
			if created {
				if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "First run setup complete.\nEdit config file: %s\n", cfg.ConfigPath()); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to `vulnagent chat` when no subcommand is provided.
			chatCmd, _, err := cmd.Find([]string{"chat"})
			if err != nil {
				return err
			}
			chatCmd.SetContext(cmd.Context())
			return chatCmd.RunE(chatCmd, args)
		},
	}

	root.AddCommand(newAskCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newDemoCmd())
	root.AddCommand(newToolsCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newProviderCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging (info level)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return root
}
