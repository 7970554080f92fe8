package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/vulnagent/internal/agent"
	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/conversation"
	"github.com/neoclaw-ai/vulnagent/internal/session"
)

func newReplayCmd() *cobra.Command {
	var (
		transcriptPath string
		list           bool
	)

	cmd := &cobra.Command{
		Use:   "replay [id]",
		Short: "Re-run a recorded session from its transcript and compare the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if transcriptPath == "" {
				transcriptPath = cfg.ChatTranscriptPath()
			}
			transcript := session.NewTranscript(transcriptPath)
			out := cmd.OutOrStdout()

			if list {
				records, err := transcript.Load(cmd.Context())
				if err != nil {
					return err
				}
				for _, rec := range records {
					status := "ok"
					switch {
					case rec.Failed():
						status = "failed"
					case rec.Degraded:
						status = "degraded"
					}
					fmt.Fprintf(out, "%s  %s  %-8s  %s\n", rec.ID, rec.StartedAt.Format(time.RFC3339), status, rec.Query)
				}
				return nil
			}

			var id string
			if len(args) == 1 {
				id = args[0]
			}
			rec, err := transcript.Find(cmd.Context(), id)
			if err != nil {
				return err
			}

			replayed, replayErr := agent.Replay(cmd.Context(), rec.Messages, replayConfig(cfg, rec))
			if replayErr != nil && !rec.Failed() {
				return fmt.Errorf("replay %s: %w", rec.ID, replayErr)
			}
			if replayErr != nil {
				var serr *agent.SessionError
				if !errors.As(replayErr, &serr) {
					return fmt.Errorf("replay %s: %w", rec.ID, replayErr)
				}
			}

			idx, err := firstDivergence(rec.Messages, replayed)
			if err != nil {
				return err
			}
			if idx >= 0 {
				return fmt.Errorf("replay of %s diverged at message %d of %d", rec.ID, idx, len(rec.Messages))
			}
			_, err = fmt.Fprintf(out, "Replay of %s reproduced %d messages exactly.\n", rec.ID, len(replayed))
			return err
		},
	}

	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "Transcript file to read (default: the chat transcript)")
	cmd.Flags().BoolVar(&list, "list", false, "List recorded sessions instead of replaying")

	return cmd
}

// replayConfig rebuilds the session config a record ran under. Records
// without a stored budget fall back to the current config.
func replayConfig(cfg *config.Config, rec session.Record) agent.SessionConfig {
	sc := sessionConfig(cfg, rec.Profile)
	if rec.MaxIterations > 0 {
		sc.MaxIterations = rec.MaxIterations
	}
	if rec.PerCallTimeout > 0 {
		sc.PerCallTimeout = rec.PerCallTimeout
	}
	return sc
}

// firstDivergence returns the index of the first message that differs in its
// encoded form, or -1 when both sequences match.
func firstDivergence(recorded, replayed []conversation.Message) (int, error) {
	n := min(len(recorded), len(replayed))
	for i := 0; i < n; i++ {
		a, err := json.Marshal(recorded[i])
		if err != nil {
			return 0, err
		}
		b, err := json.Marshal(replayed[i])
		if err != nil {
			return 0, err
		}
		if !bytes.Equal(a, b) {
			return i, nil
		}
	}
	if len(recorded) != len(replayed) {
		return n, nil
	}
	return -1, nil
}
