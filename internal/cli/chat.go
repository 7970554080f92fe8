package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/vulnagent/internal/channels"
	"github.com/neoclaw-ai/vulnagent/internal/commands"
)

const historyFileName = "history"

func newChatCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive query session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadStartupConfig()
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), cfg, appOptions{
				withModel:      true,
				profile:        profile,
				retain:         cfg.Agent.RetainHistory,
				transcriptPath: cfg.ChatTranscriptPath(),
			})
			if err != nil {
				return err
			}
			defer app.Close()

			listener := channels.NewCLI(
				cmd.InOrStdin(),
				cmd.OutOrStdout(),
				channels.WithHistoryFile(filepath.Join(cfg.DataDir(), historyFileName)),
			)
			router := commands.Router{
				Commands: commands.New(commands.Deps{
					Session:   app.agent,
					Profiles:  app.agent,
					Tools:     app.registry,
					Providers: app.host,
				}),
				Next: app.agent,
			}
			return listener.Listen(cmd.Context(), router)
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Behavior profile (default, concise, detailed, analytics)")

	return cmd
}
