package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/provider"
)

const modelPingTimeout = 30 * time.Second

func newToolsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Connect tool providers and list the tools they advertise",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			descs := app.registry.Descriptors()
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), descs)
			}
			out := cmd.OutOrStdout()
			if len(descs) == 0 {
				fmt.Fprintln(out, "No tools registered.")
				return nil
			}
			for _, d := range descs {
				fmt.Fprintf(out, "%s (%s)\n    %s\n", d.Name, d.Provider, d.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print tool descriptors as JSON")

	return cmd
}

func newCheckCmd() *cobra.Command {
	var skipModel bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the record store, tool providers and model configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadStartupConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			app, err := newApp(cmd.Context(), cfg, appOptions{withModel: !skipModel})
			if err != nil {
				fmt.Fprintf(out, "FAIL startup: %v\n", err)
				return err
			}
			defer app.Close()

			ok := true
			if app.store != nil {
				n, err := app.store.Count(cmd.Context())
				if err != nil {
					ok = false
					fmt.Fprintf(out, "FAIL record store %s: %v\n", cfg.Store.Path, err)
				} else {
					fmt.Fprintf(out, "ok   record store %s: %d records\n", cfg.Store.Path, n)
				}
			}

			statuses := app.host.Providers()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "warn no tool providers enabled")
			}
			for _, st := range statuses {
				if st.Connected {
					fmt.Fprintf(out, "ok   provider %s (%s): %d tools\n", st.Name, st.Transport, st.Tools)
					continue
				}
				ok = false
				fmt.Fprintf(out, "FAIL provider %s (%s): %s\n", st.Name, st.Transport, st.Err)
			}

			if !skipModel {
				llm := cfg.ActiveLLM()
				if err := pingModel(cmd.Context(), app.model); err != nil {
					ok = false
					fmt.Fprintf(out, "FAIL model %s/%s: %v\n", llm.Provider, llm.Model, err)
				} else {
					fmt.Fprintf(out, "ok   model %s/%s\n", llm.Provider, llm.Model)
				}
			}

			if !ok {
				return errors.New("some checks failed")
			}
			fmt.Fprintln(out, "All checks passed.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipModel, "skip-model", false, "Do not send a test request to the model")

	return cmd
}

// pingModel sends a minimal request to confirm the model endpoint answers.
func pingModel(ctx context.Context, model provider.Provider) error {
	ctx, cancel := context.WithTimeout(ctx, modelPingTimeout)
	defer cancel()
	resp, err := model.Chat(ctx, provider.ChatRequest{
		Messages:  []provider.ChatMessage{{Role: provider.RoleUser, Content: "Reply with OK."}},
		MaxTokens: 16,
	})
	if err != nil {
		return err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return errors.New("empty response")
	}
	return nil
}
