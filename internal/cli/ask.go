package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/vulnagent/internal/agent"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

func newAskCmd() *cobra.Command {
	var (
		jsonOut        bool
		transcriptPath string
		profile        string
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer one query and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("query is required")
			}
			if strings.HasPrefix(query, "/") {
				return fmt.Errorf("slash commands are not supported in one-shot mode")
			}

			cfg, err := loadStartupConfig()
			if err != nil {
				return err
			}
			if transcriptPath == "" {
				transcriptPath = cfg.ChatTranscriptPath()
			}
			app, err := newApp(cmd.Context(), cfg, appOptions{
				withModel:      true,
				profile:        profile,
				transcriptPath: transcriptPath,
			})
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.agent.SubmitQuery(cmd.Context(), query)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), newAnswerOutput(res))
			}
			return printAnswer(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the structured result as JSON")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "Append the session record to this JSONL file")
	cmd.Flags().StringVar(&profile, "profile", "", "Behavior profile (default, concise, detailed, analytics)")

	return cmd
}

type answerOutput struct {
	Answer      string                     `json:"answer"`
	Degraded    bool                       `json:"degraded"`
	Diagnostic  string                     `json:"diagnostic,omitempty"`
	Iterations  int                        `json:"iterations"`
	ToolResults []transport.ToolCallResult `json:"tool_results"`
}

func newAnswerOutput(res *agent.Result) answerOutput {
	results := res.ToolResults
	if results == nil {
		results = []transport.ToolCallResult{}
	}
	return answerOutput{
		Answer:      res.Answer,
		Degraded:    res.Degraded,
		Diagnostic:  res.Diagnostic,
		Iterations:  res.Iterations,
		ToolResults: results,
	}
}

// printAnswer writes the answer followed by a compact list of tool calls.
func printAnswer(w io.Writer, res *agent.Result) error {
	if _, err := fmt.Fprintln(w, res.Answer); err != nil {
		return err
	}
	if res.Degraded {
		if _, err := fmt.Fprintf(w, "\n(degraded: %s)\n", res.Diagnostic); err != nil {
			return err
		}
	}
	if len(res.ToolResults) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "\nTool calls:"); err != nil {
		return err
	}
	for _, r := range res.ToolResults {
		status := "ok"
		if !r.Succeeded {
			status = "failed: " + string(r.Kind)
		}
		if _, err := fmt.Fprintf(w, "- %s [%s] %s\n", r.ToolName, status, r.Duration.Round(time.Millisecond)); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
