package protocol

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hcomhq/hcom/internal/config"
	"github.com/hcomhq/hcom/internal/store"
)

// Handler processes one normalized hook invocation.
type Handler func(ctx context.Context, st *store.Store, p Payload) (HookResult, error)

// route is the (tool, hook_type) key the dispatch table is keyed on. A
// handler registered with an empty Tool applies to every tool that doesn't
// have a more specific entry (most hook types behave identically across
// Claude, Gemini and Codex; only the ABI differs, which FromClaude/
// FromGemini/FromCodex already normalized away).
type route struct {
	tool     Tool
	hookType HookType
}

// Registry is the single table mapping (tool, hook_type) to a handler. It
// is the authoritative documentation of which hooks are routed where (spec
// §9) — read Register calls in NewRegistry, not a scattered if/else chain.
type Registry struct {
	handlers map[route]Handler
	notify   *notifyDedup
}

// NewRegistry builds the default dispatch table wired to st-backed
// handlers, with Notification-hook dedup state rooted under the default
// hcom directory. Every entry is tool-agnostic; Codex's single notify hook
// arrives as HookNotify (see FromCodex) and goes to the same handler.
func NewRegistry() *Registry {
	return NewRegistryWithDedupe(filepath.Join(config.Dir(), "notify-state"), config.Default().NotifyDedupeWindow)
}

// NewRegistryWithDedupe builds the dispatch table with an explicit
// notification-dedupe state directory and window, so callers that already
// loaded a Config (the daemon) don't depend on the package defaults.
func NewRegistryWithDedupe(stateDir string, dedupeWindow time.Duration) *Registry {
	r := &Registry{
		handlers: make(map[route]Handler),
		notify:   newNotifyDedup(stateDir, dedupeWindow),
	}

	r.Register("", HookPreToolUse, r.handlePreToolUse)
	r.Register("", HookPostToolUse, handlePostToolUse)
	r.Register("", HookPoll, handlePoll)
	r.Register("", HookNotify, r.handleNotify)
	r.Register("", HookUserPromptSubmit, r.handleUserPromptSubmit)
	r.Register("", HookSessionStart, handleSessionStart)
	r.Register("", HookSessionEnd, r.handleSessionEnd)
	r.Register("", HookSubagentStart, handleSubagentStart)
	r.Register("", HookSubagentStop, handleSubagentStop)

	return r
}

// Register adds a handler for (tool, hookType). An empty tool registers a
// fallback used when no tool-specific entry exists.
func (r *Registry) Register(tool Tool, hookType HookType, h Handler) {
	r.handlers[route{tool, hookType}] = h
}

// lookup finds the most specific handler for p: an exact (tool, hookType)
// match first, falling back to the tool-agnostic ("", hookType) entry.
func (r *Registry) lookup(p Payload) (Handler, bool) {
	if h, ok := r.handlers[route{p.Tool, p.HookType}]; ok {
		return h, true
	}
	h, ok := r.handlers[route{"", p.HookType}]
	return h, ok
}

// CanHandle reports whether a handler is registered for p's (tool,
// hookType).
func (r *Registry) CanHandle(p Payload) bool {
	_, ok := r.lookup(p)
	return ok
}

// Dispatch routes p to its handler and runs it. An unrecognized hook type
// is not an error: callers on the participation-gate boundary (spec's
// "non-participants exit 0 silently") should not leak failures into normal
// tool usage for a hook type hcom doesn't act on.
func (r *Registry) Dispatch(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	h, ok := r.lookup(p)
	if !ok {
		return Success(""), nil
	}
	res, err := h(ctx, st, p)
	if err != nil {
		return Error(fmt.Sprintf("hcom: %v", err), 1), nil
	}
	return res, nil
}
