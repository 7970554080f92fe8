// Package commands provides channel-agnostic slash command handling.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/vulnagent/internal/runtime"
	"github.com/neoclaw-ai/vulnagent/internal/toolhost"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

const helpText = "Commands: /help, /commands, /tools, /providers, /reconnect <provider>, /profile [name], /new, /reset, /stop, /quit"

// Resetter resets the active conversation.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Profiles reads and switches the behavior profile.
type Profiles interface {
	Profile() string
	SetProfile(name string) error
}

// ToolLister lists the registered tools.
type ToolLister interface {
	Descriptors() []transport.ToolDescriptor
}

// ProviderHost reports and reconnects tool providers.
type ProviderHost interface {
	Providers() []toolhost.Status
	Reconnect(ctx context.Context, name string) error
}

// Deps holds the collaborators commands act on. Nil fields disable the
// corresponding commands.
type Deps struct {
	Session   Resetter
	Profiles  Profiles
	Tools     ToolLister
	Providers ProviderHost
}

// Handler dispatches supported slash commands.
type Handler struct {
	deps Deps
}

// New creates a new slash command handler.
func New(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Handle executes one command and reports whether it was handled.
func (h *Handler) Handle(ctx context.Context, cmd string, w runtime.ResponseWriter) (handled bool, err error) {
	if w == nil {
		return false, errors.New("response writer is required")
	}

	name, arg := split(cmd)
	switch name {
	case "/help", "/commands":
		return true, w.WriteMessage(ctx, helpText)
	case "/new", "/reset":
		return true, h.handleReset(ctx, w)
	case "/tools":
		return true, h.handleTools(ctx, w)
	case "/providers":
		return true, h.handleProviders(ctx, w)
	case "/reconnect":
		return true, h.handleReconnect(ctx, w, arg)
	case "/profile":
		return true, h.handleProfile(ctx, w, arg)
	default:
		return false, nil
	}
}

func (h *Handler) handleReset(ctx context.Context, w runtime.ResponseWriter) error {
	if h.deps.Session == nil {
		return errors.New("reset command is unavailable")
	}
	if err := h.deps.Session.Reset(ctx); err != nil {
		return err
	}
	return w.WriteMessage(ctx, "Session cleared.")
}

func (h *Handler) handleTools(ctx context.Context, w runtime.ResponseWriter) error {
	if h.deps.Tools == nil {
		return errors.New("tools command is unavailable")
	}
	descs := h.deps.Tools.Descriptors()
	if len(descs) == 0 {
		return w.WriteMessage(ctx, "No tools registered.")
	}
	var b strings.Builder
	b.WriteString("Registered tools:\n")
	for i, d := range descs {
		_, _ = fmt.Fprintf(&b, "%d. %s (%s)", i+1, d.Name, d.Provider)
		if i < len(descs)-1 {
			b.WriteByte('\n')
		}
	}
	return w.WriteMessage(ctx, b.String())
}

func (h *Handler) handleProviders(ctx context.Context, w runtime.ResponseWriter) error {
	if h.deps.Providers == nil {
		return errors.New("providers command is unavailable")
	}
	statuses := h.deps.Providers.Providers()
	if len(statuses) == 0 {
		return w.WriteMessage(ctx, "No tool providers configured.")
	}
	var b strings.Builder
	b.WriteString("Tool providers:\n")
	for i, st := range statuses {
		_, _ = fmt.Fprintf(&b, "%d. %s (%s) - %s, %d tools", i+1, st.Name, st.Transport, providerState(st), st.Tools)
		if st.Err != "" {
			_, _ = fmt.Fprintf(&b, "\n   error: %s", st.Err)
		}
		if i < len(statuses)-1 {
			b.WriteByte('\n')
		}
	}
	return w.WriteMessage(ctx, b.String())
}

func providerState(st toolhost.Status) string {
	switch {
	case st.Crashed:
		return "crashed"
	case st.Connected:
		return "connected"
	default:
		return "unavailable"
	}
}

func (h *Handler) handleReconnect(ctx context.Context, w runtime.ResponseWriter, name string) error {
	if h.deps.Providers == nil {
		return errors.New("reconnect command is unavailable")
	}
	if name == "" {
		return w.WriteMessage(ctx, "Usage: /reconnect <provider>")
	}
	if err := h.deps.Providers.Reconnect(ctx, name); err != nil {
		if errors.Is(err, toolhost.ErrUnknownProvider) {
			return w.WriteMessage(ctx, fmt.Sprintf("Unknown provider %q.", name))
		}
		return w.WriteMessage(ctx, fmt.Sprintf("Reconnect %s failed: %v", name, err))
	}
	return w.WriteMessage(ctx, fmt.Sprintf("Reconnected %s.", name))
}

func (h *Handler) handleProfile(ctx context.Context, w runtime.ResponseWriter, name string) error {
	if h.deps.Profiles == nil {
		return errors.New("profile command is unavailable")
	}
	if name == "" {
		return w.WriteMessage(ctx, fmt.Sprintf("Profile: %s", h.deps.Profiles.Profile()))
	}
	if err := h.deps.Profiles.SetProfile(name); err != nil {
		return w.WriteMessage(ctx, err.Error())
	}
	return w.WriteMessage(ctx, fmt.Sprintf("Profile set to %s. Session cleared.", name))
}

// Router dispatches slash commands before delegating to the next runtime.Handler.
type Router struct {
	Commands *Handler
	Next     runtime.Handler
}

// HandleMessage runs command dispatch first, then forwards non-command input.
func (r Router) HandleMessage(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if r.Next == nil {
		return errors.New("next handler is required")
	}
	if r.Commands != nil {
		handled, err := r.Commands.Handle(ctx, msg.Text, w)
		if handled || err != nil {
			return err
		}
	}
	return r.Next.HandleMessage(ctx, w, msg)
}

// split separates the lower-cased command word from its argument.
func split(text string) (string, string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	return strings.ToLower(fields[0]), strings.Join(fields[1:], " ")
}
