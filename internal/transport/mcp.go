package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/semaphore"

	"github.com/neoclaw-ai/vulnagent/internal/logging"
)

// crashGrace is how long a failed call waits for the session to report closure
// before the failure is treated as a provider-side error.
const crashGrace = 100 * time.Millisecond

// ClientVersion is reported to providers during the handshake.
var ClientVersion = "dev"

// MCPClient is a Transport backed by an MCP client session.
// It is single use: after Disconnect or a crash, create a new one.
type MCPClient struct {
	name   string
	dial   Dialer
	client *mcp.Client
	sem    *semaphore.Weighted

	mu      sync.Mutex
	session *mcp.ClientSession
	cleanup func()
	done    chan struct{}

	closing        atomic.Bool
	crashed        atomic.Bool
	disconnectOnce sync.Once
	disconnectErr  error
}

// NewMCPClient returns an unconnected transport for the named provider.
// maxInFlight bounds concurrent invocations; 1 serializes them.
func NewMCPClient(name string, dial Dialer, maxInFlight int) *MCPClient {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &MCPClient{
		name:   name,
		dial:   dial,
		client: mcp.NewClient(&mcp.Implementation{Name: "vulnagent", Version: ClientVersion}, nil),
		sem:    semaphore.NewWeighted(int64(maxInFlight)),
		done:   make(chan struct{}),
	}
}

// Name returns the provider name.
func (c *MCPClient) Name() string {
	return c.name
}

// Connect launches the provider and performs the initialize handshake.
func (c *MCPClient) Connect(ctx context.Context) error {
	if c.closing.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}

	t, cleanup, err := c.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrConnection) {
			return fmt.Errorf("provider %s: %w", c.name, err)
		}
		return fmt.Errorf("provider %s: %w: %v", c.name, ErrConnection, err)
	}
	session, err := c.client.Connect(ctx, t, nil)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return fmt.Errorf("provider %s: %w: %v", c.name, ErrConnection, err)
	}
	c.session = session
	c.cleanup = cleanup

	go c.watch(session)
	logging.Logger().Info("provider connected", "provider", c.name)
	return nil
}

// watch closes done when the session ends and records whether that was a crash.
func (c *MCPClient) watch(session *mcp.ClientSession) {
	err := session.Wait()
	if !c.closing.Load() {
		c.crashed.Store(true)
		logging.Logger().Error("provider crashed", "provider", c.name, "err", err)
	}
	close(c.done)
}

// Done is closed when the provider channel ends.
func (c *MCPClient) Done() <-chan struct{} {
	return c.done
}

// Crashed reports whether the channel ended without Disconnect.
func (c *MCPClient) Crashed() bool {
	return c.crashed.Load()
}

func (c *MCPClient) activeSession() (*mcp.ClientSession, error) {
	if c.closing.Load() {
		return nil, ErrClosed
	}
	if c.crashed.Load() {
		return nil, fmt.Errorf("provider %s: %w", c.name, ErrProviderCrashed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("provider %s: %w: not connected", c.name, ErrConnection)
	}
	return c.session, nil
}

// ListTools returns the provider's tool descriptors in advertised order.
func (c *MCPClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	var out []ToolDescriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			if c.channelClosed() {
				return nil, fmt.Errorf("provider %s: %w: %v", c.name, ErrProviderCrashed, err)
			}
			return nil, fmt.Errorf("provider %s: %w: list tools: %v", c.name, ErrProtocol, err)
		}
		desc, err := toDescriptor(c.name, tool)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w: %v", c.name, ErrProtocol, err)
		}
		out = append(out, desc)
	}
	return out, nil
}

func toDescriptor(provider string, tool *mcp.Tool) (ToolDescriptor, error) {
	if tool == nil || strings.TrimSpace(tool.Name) == "" {
		return ToolDescriptor{}, errors.New("tool without a name")
	}
	schema := map[string]any{}
	if tool.InputSchema != nil {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return ToolDescriptor{}, fmt.Errorf("tool %s: encode input schema: %v", tool.Name, err)
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return ToolDescriptor{}, fmt.Errorf("tool %s: input schema is not an object: %v", tool.Name, err)
		}
	}
	if typ, ok := schema["type"]; ok && typ != "object" {
		return ToolDescriptor{}, fmt.Errorf("tool %s: input schema type %v, want object", tool.Name, typ)
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return ToolDescriptor{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
		Provider:    provider,
	}, nil
}

// Invoke calls one tool. Calls beyond the in-flight limit wait for a slot.
func (c *MCPClient) Invoke(ctx context.Context, call Call) (ToolCallResult, error) {
	session, err := c.activeSession()
	if err != nil {
		kind := FailureProviderCrashed
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrConnection) {
			kind = FailureProvider
		}
		return Failed(call, kind, err.Error()), err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Failed(call, FailureCanceled, err.Error()), err
	}
	defer c.sem.Release(1)

	callCtx := ctx
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	startedAt := time.Now()
	res, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: call.Name, Arguments: args})
	elapsed := time.Since(startedAt)
	if err != nil {
		var result ToolCallResult
		switch {
		case ctx.Err() != nil:
			result, err = Failed(call, FailureCanceled, ctx.Err().Error()), ctx.Err()
		case c.channelClosed():
			err = fmt.Errorf("provider %s: %w during %s: %v", c.name, ErrProviderCrashed, call.Name, err)
			result = Failed(call, FailureProviderCrashed, err.Error())
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("provider %s: %w: %s after %s", c.name, ErrTimeout, call.Name, call.Timeout)
			result = Failed(call, FailureTimeout, err.Error())
		default:
			// JSON-RPC level rejection by a live provider.
			result, err = Failed(call, FailureProvider, err.Error()), nil
		}
		result.Duration = elapsed
		return result, err
	}

	text := contentText(res)
	result := ToolCallResult{
		ToolName:  call.Name,
		CallID:    call.ID,
		Succeeded: !res.IsError,
		Duration:  elapsed,
	}
	if res.IsError {
		result.Kind = FailureProvider
		result.ErrorDetail = text
		if result.ErrorDetail == "" {
			result.ErrorDetail = "tool reported an error without detail"
		}
	} else {
		result.Payload = text
	}
	return result, nil
}

// channelClosed reports whether the session has ended, waiting briefly for
// the closure to be observed.
func (c *MCPClient) channelClosed() bool {
	select {
	case <-c.done:
		return c.crashed.Load()
	case <-time.After(crashGrace):
		return false
	}
}

func contentText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		switch v := content.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			raw, err := json.Marshal(content)
			if err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}

// Disconnect closes the session and terminates the provider. It is safe to
// call more than once.
func (c *MCPClient) Disconnect() error {
	c.disconnectOnce.Do(func() {
		c.closing.Store(true)
		c.mu.Lock()
		session, cleanup := c.session, c.cleanup
		c.session, c.cleanup = nil, nil
		c.mu.Unlock()

		if session == nil {
			close(c.done)
			return
		}
		if err := session.Close(); err != nil && !isBenignCloseError(err) {
			c.disconnectErr = fmt.Errorf("provider %s: close session: %w", c.name, err)
		}
		if cleanup != nil {
			cleanup()
		}
		<-c.done
		logging.Logger().Info("provider disconnected", "provider", c.name)
	})
	return c.disconnectErr
}

func isBenignCloseError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) || errors.Is(err, context.Canceled)
}

func logProcessError(cmd *exec.Cmd, err error) {
	logging.Logger().Warn("kill provider process group", "command", cmd.Path, "err", err)
}
