// Package toolhost owns the connections to every configured tool provider and
// keeps the tool registry in step with them.
package toolhost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
	"github.com/neoclaw-ai/vulnagent/internal/tools"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

// ErrUnknownProvider reports a provider name missing from the configuration.
var ErrUnknownProvider = errors.New("unknown tool provider")

// Status is a snapshot of one configured provider.
type Status struct {
	Name        string `json:"name"`
	Transport   string `json:"transport"`
	Description string `json:"description,omitempty"`
	Connected   bool   `json:"connected"`
	Crashed     bool   `json:"crashed"`
	Tools       int    `json:"tools"`
	Err         string `json:"error,omitempty"`
}

// Option configures a Host.
type Option func(*Host)

// WithInProcessServer serves the named provider from server through
// in-memory transports.
func WithInProcessServer(name string, server *mcp.Server) Option {
	return func(h *Host) {
		h.servers[name] = server
	}
}

// WithHTTPClient sets the client used by http providers.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Host) {
		h.httpClient = client
	}
}

// Host connects providers and registers their tools.
type Host struct {
	registry   *tools.Registry
	specs      map[string]config.ToolProviderConfig
	servers    map[string]*mcp.Server
	httpClient *http.Client

	mu       sync.Mutex
	handles  map[string]*tools.Handle
	failures map[string]error
}

// New creates a host for specs. Only enabled specs are connected.
func New(registry *tools.Registry, specs map[string]config.ToolProviderConfig, opts ...Option) *Host {
	h := &Host{
		registry:   registry,
		specs:      specs,
		servers:    make(map[string]*mcp.Server),
		httpClient: http.DefaultClient,
		handles:    make(map[string]*tools.Handle),
		failures:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry the host populates.
func (h *Host) Registry() *tools.Registry {
	return h.registry
}

type connectResult struct {
	transport   transport.Transport
	descriptors []transport.ToolDescriptor
	err         error
}

// Connect connects every enabled provider concurrently and registers their
// tools in name order. A provider that fails to connect is logged and
// skipped. A tool name advertised by two providers fails the whole startup.
func (h *Host) Connect(ctx context.Context) error {
	names := h.enabled()
	results := make([]connectResult, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			t, descs, err := h.connectOne(gctx, name, h.specs[name])
			results[i] = connectResult{transport: t, descriptors: descs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for _, r := range results {
			if r.transport != nil {
				_ = r.transport.Disconnect()
			}
		}
		return err
	}

	for i, name := range names {
		r := results[i]
		if r.err != nil {
			logging.Logger().Warn("tool provider unavailable; continuing without it", "provider", name, "err", r.err)
			h.setFailure(name, r.err)
			continue
		}
		handle := tools.NewHandle(r.transport)
		if err := h.registry.Register(handle, r.descriptors); err != nil {
			_ = r.transport.Disconnect()
			if errors.Is(err, tools.ErrDuplicateToolName) {
				for _, rest := range results[i+1:] {
					if rest.transport != nil {
						_ = rest.transport.Disconnect()
					}
				}
				_ = h.Close()
				return err
			}
			logging.Logger().Warn("tool provider registration failed", "provider", name, "err", err)
			h.setFailure(name, err)
			continue
		}
		h.mu.Lock()
		h.handles[name] = handle
		h.mu.Unlock()
		logging.Logger().Info("tool provider registered", "provider", name, "transport", h.specs[name].Transport, "tools", len(r.descriptors))
		go h.watch(name, handle)
	}
	return nil
}

// Reconnect replaces the named provider's connection and atomically swaps its
// descriptors in the registry. The old connection is closed afterwards.
func (h *Host) Reconnect(ctx context.Context, name string) error {
	spec, ok := h.specs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	t, descs, err := h.connectOne(ctx, name, spec)
	if err != nil {
		h.setFailure(name, err)
		return err
	}
	handle := tools.NewHandle(t)

	h.mu.Lock()
	old := h.handles[name]
	if err := h.registry.Replace(handle, descs); err != nil {
		h.mu.Unlock()
		_ = t.Disconnect()
		return err
	}
	h.handles[name] = handle
	delete(h.failures, name)
	h.mu.Unlock()

	if old != nil {
		if err := old.Transport.Disconnect(); err != nil {
			logging.Logger().Debug("close replaced provider connection", "provider", name, "err", err)
		}
	}
	logging.Logger().Info("provider reconnected", "provider", name, "tools", len(descs))
	go h.watch(name, handle)
	return nil
}

// Close disconnects every provider. It is safe to call more than once.
func (h *Host) Close() error {
	h.mu.Lock()
	handles := h.handles
	h.handles = make(map[string]*tools.Handle)
	h.mu.Unlock()

	var errs []error
	for name, handle := range handles {
		h.registry.Unregister(name)
		if err := handle.Transport.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Providers returns the status of every enabled provider in name order.
func (h *Host) Providers() []Status {
	counts := h.registry.Providers()
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Status, 0, len(h.specs))
	for _, name := range h.enabled() {
		spec := h.specs[name]
		st := Status{
			Name:        name,
			Transport:   spec.Transport,
			Description: spec.Description,
			Tools:       counts[name],
		}
		if handle, ok := h.handles[name]; ok {
			st.Crashed = handle.Transport.Crashed()
			st.Connected = !st.Crashed
		}
		if err, ok := h.failures[name]; ok {
			st.Err = err.Error()
		}
		out = append(out, st)
	}
	return out
}

func (h *Host) connectOne(ctx context.Context, name string, spec config.ToolProviderConfig) (transport.Transport, []transport.ToolDescriptor, error) {
	dial, err := h.dialer(name, spec)
	if err != nil {
		return nil, nil, err
	}
	client := transport.NewMCPClient(name, dial, spec.MaxInFlight)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}
	descs, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Disconnect()
		return nil, nil, err
	}
	for i := range descs {
		descs[i].Description = fmt.Sprintf("[%s] %s", name, descs[i].Description)
	}
	return client, descs, nil
}

func (h *Host) dialer(name string, spec config.ToolProviderConfig) (transport.Dialer, error) {
	switch spec.Transport {
	case config.TransportStdio, "":
		return transport.CommandDialer(spec.Command, spec.Args, spec.Env), nil
	case config.TransportHTTP:
		return transport.HTTPDialer(spec.Endpoint, h.httpClient), nil
	case config.TransportInProcess:
		server, ok := h.servers[name]
		if !ok {
			return nil, fmt.Errorf("%w: no in-process server for provider %s", transport.ErrConnection, name)
		}
		return transport.InProcessDialer(server), nil
	default:
		return nil, fmt.Errorf("%w: unsupported transport %q for provider %s", transport.ErrConnection, spec.Transport, name)
	}
}

// watch logs a provider channel that ends without Disconnect. The provider's
// tools stay registered and fail fast until it is reconnected.
func (h *Host) watch(name string, handle *tools.Handle) {
	<-handle.Transport.Done()
	if !handle.Transport.Crashed() {
		return
	}
	h.mu.Lock()
	current := h.handles[name] == handle
	if current {
		h.failures[name] = transport.ErrProviderCrashed
	}
	h.mu.Unlock()
	if current {
		logging.Logger().Warn("provider tools fail until reconnect", "provider", name)
	}
}

func (h *Host) setFailure(name string, err error) {
	h.mu.Lock()
	h.failures[name] = err
	h.mu.Unlock()
}

func (h *Host) enabled() []string {
	names := make([]string, 0, len(h.specs))
	for name, spec := range h.specs {
		if spec.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
