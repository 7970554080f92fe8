package cli

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

// Version and Commit are stamped by the release build with -ldflags -X.
var (
	Version = "dev"
	Commit  = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent build and the MCP client identity it announces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(),
				"vulnagent %s (%s)\nmcp client: vulnagent/%s\ngo: %s %s/%s\n",
				Version, Commit, transport.ClientVersion,
				goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
			return err
		},
	}
}
