// Package tools aggregates tool descriptors advertised by tool providers and
// resolves tool names to the provider transport that serves them.
package tools

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/neoclaw-ai/vulnagent/internal/logging"
	"github.com/neoclaw-ai/vulnagent/internal/provider"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

// Handle binds one connected transport to the descriptors it advertised.
// A new Handle is created for every successful connection.
type Handle struct {
	ID        string
	Transport transport.Transport
}

// NewHandle wraps a connected transport.
func NewHandle(t transport.Transport) *Handle {
	return &Handle{ID: uuid.NewString(), Transport: t}
}

// Provider returns the provider name of the bound transport.
func (h *Handle) Provider() string {
	return h.Transport.Name()
}

type entry struct {
	descriptor transport.ToolDescriptor
	handle     *Handle
	schema     *jsonschema.Resolved
}

// Registry stores tool descriptors by unique name in registration order.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*entry
	order      []string
	byProvider map[string][]string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]*entry),
		byProvider: make(map[string][]string),
	}
}

// Register adds the descriptors advertised by handle's provider. Nothing is
// registered when any name collides with a tool from another provider.
func (r *Registry) Register(handle *Handle, descriptors []transport.ToolDescriptor) error {
	if handle == nil || handle.Transport == nil {
		return errors.New("tool provider handle cannot be nil")
	}
	entries, err := buildEntries(handle, descriptors)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	provider := handle.Provider()
	if _, exists := r.byProvider[provider]; exists {
		return fmt.Errorf("tool provider %s already registered", provider)
	}
	if err := r.checkCollisions(provider, entries); err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		r.byName[e.descriptor.Name] = e
		names = append(names, e.descriptor.Name)
	}
	r.order = append(r.order, names...)
	r.byProvider[provider] = names
	return nil
}

// Replace atomically swaps a provider's descriptor set, for example after a
// reconnect. The new set keeps the provider's position in the ordering. On
// error the previous set stays registered.
func (r *Registry) Replace(handle *Handle, descriptors []transport.ToolDescriptor) error {
	if handle == nil || handle.Transport == nil {
		return errors.New("tool provider handle cannot be nil")
	}
	entries, err := buildEntries(handle, descriptors)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	provider := handle.Provider()
	if err := r.checkCollisions(provider, entries); err != nil {
		return err
	}

	old := r.byProvider[provider]
	insertAt := len(r.order)
	if len(old) > 0 {
		insertAt = indexOf(r.order, old[0])
	}
	oldSet := make(map[string]bool, len(old))
	for _, name := range old {
		oldSet[name] = true
		delete(r.byName, name)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		r.byName[e.descriptor.Name] = e
		names = append(names, e.descriptor.Name)
	}

	order := make([]string, 0, len(r.order)-len(old)+len(names))
	for i, name := range r.order {
		if i == insertAt {
			order = append(order, names...)
		}
		if !oldSet[name] {
			order = append(order, name)
		}
	}
	if insertAt >= len(r.order) {
		order = append(order, names...)
	}
	r.order = order
	r.byProvider[provider] = names
	return nil
}

// Unregister removes every descriptor of the named provider.
func (r *Registry) Unregister(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names, ok := r.byProvider[provider]
	if !ok {
		return
	}
	removed := make(map[string]bool, len(names))
	for _, name := range names {
		removed[name] = true
		delete(r.byName, name)
	}
	order := r.order[:0:0]
	for _, name := range r.order {
		if !removed[name] {
			order = append(order, name)
		}
	}
	r.order = order
	delete(r.byProvider, provider)
}

// Resolve returns the handle and descriptor serving name.
func (r *Registry) Resolve(name string) (*Handle, transport.ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, transport.ToolDescriptor{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return e.handle, e.descriptor, nil
}

// Descriptors returns all registered descriptors in registration order.
func (r *Registry) Descriptors() []transport.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].descriptor)
	}
	return out
}

// Providers returns the registered provider names with their tool counts.
func (r *Registry) Providers() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.byProvider))
	for provider, names := range r.byProvider {
		out[provider] = len(names)
	}
	return out
}

// ToolDefinitions converts registered descriptors into LLM request tool definitions.
func (r *Registry) ToolDefinitions() []provider.ToolDefinition {
	return ToolDefinitions(r.Descriptors())
}

// ToolDefinitions converts descriptors into LLM request tool definitions.
func ToolDefinitions(descriptors []transport.ToolDescriptor) []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, provider.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}
	return defs
}

func (r *Registry) checkCollisions(provider string, entries []*entry) error {
	var errs []error
	for _, e := range entries {
		existing, ok := r.byName[e.descriptor.Name]
		if ok && existing.handle.Provider() != provider {
			errs = append(errs, fmt.Errorf("%w: %q advertised by %s and %s",
				ErrDuplicateToolName, e.descriptor.Name, existing.handle.Provider(), provider))
		}
	}
	return errors.Join(errs...)
}

func buildEntries(handle *Handle, descriptors []transport.ToolDescriptor) ([]*entry, error) {
	seen := make(map[string]bool, len(descriptors))
	entries := make([]*entry, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, errors.New("tool name cannot be empty")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("%w: %q advertised twice by %s", ErrDuplicateToolName, d.Name, handle.Provider())
		}
		seen[d.Name] = true
		if d.Provider == "" {
			d.Provider = handle.Provider()
		}
		schema, err := resolveSchema(d.InputSchema)
		if err != nil {
			// Unresolvable schemas disable local validation; the provider still validates.
			logging.Logger().Warn("tool schema not validatable", "tool", d.Name, "provider", d.Provider, "err", err)
		}
		entries = append(entries, &entry{descriptor: d, handle: handle, schema: schema})
	}
	return entries, nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return len(names)
}
