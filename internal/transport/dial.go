package transport

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Dialer opens the underlying MCP channel. The returned cleanup runs after the
// session is closed; it may be nil.
type Dialer func(ctx context.Context) (mcp.Transport, func(), error)

// CommandDialer launches command as a subprocess speaking MCP over stdio.
// The subprocess runs in its own process group, and the whole group is killed
// on disconnect.
func CommandDialer(command string, args []string, env map[string]string) Dialer {
	return func(ctx context.Context) (mcp.Transport, func(), error) {
		if command == "" {
			return nil, nil, fmt.Errorf("%w: command is empty", ErrConnection)
		}
		// Not tied to ctx: the process must outlive the connect call.
		cmd := exec.Command(command, args...)
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		cmd.Stderr = os.Stderr
		configureProviderProcess(cmd)
		cleanup := func() { killProcessGroup(cmd) }
		return &mcp.CommandTransport{Command: cmd}, cleanup, nil
	}
}

// HTTPDialer connects to a streamable HTTP MCP endpoint.
func HTTPDialer(endpoint string, client *http.Client) Dialer {
	return func(ctx context.Context) (mcp.Transport, func(), error) {
		if endpoint == "" {
			return nil, nil, fmt.Errorf("%w: endpoint is empty", ErrConnection)
		}
		return &mcp.StreamableClientTransport{Endpoint: endpoint, HTTPClient: client}, nil, nil
	}
}

// InProcessDialer connects to server through in-memory pipes. Each dial starts
// a fresh server session that is closed by the returned cleanup.
func InProcessDialer(server *mcp.Server) Dialer {
	return func(ctx context.Context) (mcp.Transport, func(), error) {
		serverTransport, clientTransport := mcp.NewInMemoryTransports()
		session, err := server.Connect(ctx, serverTransport, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: start in-process server: %v", ErrConnection, err)
		}
		return clientTransport, func() { _ = session.Close() }, nil
	}
}
