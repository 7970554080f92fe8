package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var demoQueries = []string{
	"Show me statistics on all CVEs in the database",
	"Find all critical severity CVEs, limit to 3",
	"What CVEs have a CVSS score between 9.0 and 10.0?",
	"Search for CVEs related to 'Directory Traversal'",
}

func newDemoCmd() *cobra.Command {
	var pause bool

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the demonstration queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadStartupConfig()
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), cfg, appOptions{withModel: true})
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			in := bufio.NewReader(cmd.InOrStdin())
			rule := strings.Repeat("=", 70)
			for i, query := range demoQueries {
				fmt.Fprintf(out, "%s\nDemo Query %d: %s\n%s\n", rule, i+1, query, rule)

				res, err := app.agent.SubmitQuery(cmd.Context(), query)
				if err != nil {
					if cmd.Context().Err() != nil {
						return cmd.Context().Err()
					}
					fmt.Fprintf(out, "\nError: %v\n\n", err)
				} else {
					fmt.Fprintln(out, "\nResponse:")
					if err := printAnswer(out, res); err != nil {
						return err
					}
					fmt.Fprintln(out)
				}

				if pause && i < len(demoQueries)-1 {
					fmt.Fprintln(out, "Press Enter for next query...")
					if _, err := in.ReadString('\n'); err != nil {
						return nil
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pause, "pause", false, "Wait for Enter between queries")

	return cmd
}
