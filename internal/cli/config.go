package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/vulnagent/internal/config"
)

// newConfigCmd shows the settings a session would run under: built-in
// defaults, then config.toml, then MCP_<NAME>_SERVER_* entries.
func newConfigCmd() *cobra.Command {
	var pathOnly bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective agent, model, and tool provider settings",
		Long: "Print the merged configuration as TOML. Tool providers injected through\n" +
			"MCP_<NAME>_SERVER_* environment entries appear under [providers.<name>].",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pathOnly {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cfg.ConfigPath())
				return err
			}
			return config.Write(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&pathOnly, "path", false, "Print only the config.toml location")
	return cmd
}
