package protocol

import (
	"context"
	"fmt"
	"strings"

	"github.com/hcomhq/hcom/internal/identity"
	"github.com/hcomhq/hcom/internal/lifecycle"
	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/store"
)

// maxMessagesPerDelivery bounds how many unread messages a single poll
// delivers. Hook handlers always use this value; Config's
// MaxMessagesPerDelivery is not consulted here.
const maxMessagesPerDelivery = 50

// resolveInstance applies the spec §4.2 identity resolution chain and
// loads the resulting instance row, if any. A hook firing for a process
// hcom has never heard of resolves to (nil, "", nil): the participation
// gate ("non-participants exit 0 silently") that the original dispatcher's
// giant match opens with.
func resolveInstance(ctx context.Context, st *store.Store, p Payload) (*store.Instance, string, error) {
	name, err := identity.Resolve(ctx, st, identity.Hint{
		ProcessID:      p.ProcessID,
		SessionID:      p.SessionID,
		TranscriptHead: p.TranscriptPath,
	})
	if err != nil {
		return nil, "", fmt.Errorf("resolving identity: %w", err)
	}
	if name == "" {
		return nil, "", nil
	}
	in, err := st.GetInstance(ctx, name)
	if err != nil {
		return nil, "", fmt.Errorf("loading instance %s: %w", name, err)
	}
	return in, name, nil
}

// handlePreToolUse records the instance as active and about to run a tool.
// Task-tool subagent prompt injection is out of scope here; it belongs to
// whatever higher layer owns subagent orchestration.
func (r *Registry) handlePreToolUse(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	_, name, err := resolveInstance(ctx, st, p)
	if err != nil {
		return HookResult{}, err
	}
	if name == "" {
		return Success(""), nil
	}
	if err := messagebus.EmitStatus(ctx, st, name, messagebus.Status{
		Status:  "active",
		Context: "tool:" + p.ToolName,
	}); err != nil {
		return HookResult{}, err
	}
	// A tool is running: the instance is no longer idle, so the next
	// Notification hook should be free to announce idleness again right
	// away instead of waiting out the dedupe window.
	if err := r.notify.MarkConsumed(name, slotIdle); err != nil {
		return HookResult{}, fmt.Errorf("clearing notify dedupe for %s: %w", name, err)
	}
	return Success(""), nil
}

// handlePostToolUse records the instance as active with the tool it just
// finished, mirroring common.py's update_tool_status.
func handlePostToolUse(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	_, name, err := resolveInstance(ctx, st, p)
	if err != nil {
		return HookResult{}, err
	}
	if name == "" {
		return Success(""), nil
	}
	if err := messagebus.EmitStatus(ctx, st, name, messagebus.Status{
		Status:  "active",
		Context: "tool:" + p.ToolName,
		Detail:  toolResultDetail(p.ToolResult),
	}); err != nil {
		return HookResult{}, err
	}
	return Success(""), nil
}

// toolResultDetail renders a tool result down to a short status detail
// string, skipping anything that isn't plain text (dict/struct results
// aren't summarized here).
func toolResultDetail(result any) string {
	s, ok := result.(string)
	if !ok {
		return ""
	}
	const maxLen = 80
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// handlePoll implements the spec §4.1 core pipeline: tool process -> hook
// handler -> Identity.resolve -> Store.read_unread -> format -> return as
// additionalContext, cursor advances atomically on successful delivery.
// This is the vanilla (non-PTY) Stop hook's polling path.
func handlePoll(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	in, name, err := resolveInstance(ctx, st, p)
	if err != nil {
		return HookResult{}, err
	}
	if in == nil {
		return Success(""), nil
	}

	deliveries, _, err := messagebus.Unread(ctx, st, *in, maxMessagesPerDelivery)
	if err != nil {
		return HookResult{}, fmt.Errorf("reading unread for %s: %w", name, err)
	}
	if len(deliveries) == 0 {
		return Success(""), nil
	}

	if err := messagebus.AdvanceCursor(ctx, st, *in, deliveries); err != nil {
		return HookResult{}, fmt.Errorf("advancing cursor for %s: %w", name, err)
	}
	last := deliveries[len(deliveries)-1]
	if err := messagebus.EmitStatus(ctx, st, name, messagebus.Status{
		Status:  "active",
		Context: "deliver:" + last.Message.From,
	}); err != nil {
		return HookResult{}, err
	}

	return StopWithMessages(formatDeliveries(deliveries)), nil
}

// formatDeliveries renders delivered messages into the plain-text block a
// tool folds back into its transcript as additional context.
func formatDeliveries(deliveries []messagebus.Delivery) string {
	var b strings.Builder
	for i, d := range deliveries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s: %s", d.Message.Scope, d.Message.From, d.Message.Text)
	}
	return b.String()
}

// handleNotify marks the instance as returned to idle: the vanilla-mode
// equivalent of PushEngine's screen-model idle gate, since there is no PTY
// to inspect outside the wrapped launch path. Claude/Gemini refire their
// Notification hook on every idle tick, and each firing is its own process
// with no memory of the last one, so r.notify dedupes repeated "listening"
// emissions for the same instance rather than appending a status event per
// tick.
func (r *Registry) handleNotify(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	_, name, err := resolveInstance(ctx, st, p)
	if err != nil {
		return HookResult{}, err
	}
	if name == "" {
		return Success(""), nil
	}
	ready, err := r.notify.SendIfReady(name, slotIdle, "listening")
	if err != nil {
		return HookResult{}, fmt.Errorf("notify dedupe for %s: %w", name, err)
	}
	if !ready {
		return Success(""), nil
	}
	if err := messagebus.EmitListening(ctx, st, name); err != nil {
		return HookResult{}, err
	}
	return Success(""), nil
}

// handleUserPromptSubmit records a human turn arriving for the instance.
func (r *Registry) handleUserPromptSubmit(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	_, name, err := resolveInstance(ctx, st, p)
	if err != nil {
		return HookResult{}, err
	}
	if name == "" {
		return Success(""), nil
	}
	if err := messagebus.EmitStatus(ctx, st, name, messagebus.Status{
		Status:  "active",
		Context: "user_input",
	}); err != nil {
		return HookResult{}, err
	}
	if err := r.notify.MarkConsumed(name, slotIdle); err != nil {
		return HookResult{}, fmt.Errorf("clearing notify dedupe for %s: %w", name, err)
	}
	return Success(""), nil
}

// handleSessionStart reconciles process and session identity (spec §4.2
// bind_session_to_process): `start` creates the instance row, not this
// hook, but a session resumed or forked onto a new process still needs its
// HCOM_PROCESS_ID redirected to whatever instance the session already
// canonically owns, so later hooks firing with only a process id resolve
// correctly. A hook firing before hcom has ever heard of the session is
// still a no-op here.
func handleSessionStart(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	if p.SessionID == "" || p.ProcessID == "" {
		return Success(""), nil
	}
	if err := identity.BindSessionToProcess(ctx, st, p.SessionID, p.ProcessID); err != nil {
		return HookResult{}, fmt.Errorf("binding session to process: %w", err)
	}
	return Success(""), nil
}

// handleSessionEnd finalizes and stops the instance, mirroring common.py's
// finalize_session: mark inactive, then tear the row down like `hcom stop`.
func (r *Registry) handleSessionEnd(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	_, name, err := resolveInstance(ctx, st, p)
	if err != nil {
		return HookResult{}, err
	}
	if name == "" {
		return Success(""), nil
	}
	reason := p.NotificationType
	if reason == "" {
		reason = "hook"
	}
	if err := messagebus.EmitStatus(ctx, st, name, messagebus.Status{
		Status:  "inactive",
		Context: "exit:" + reason,
	}); err != nil {
		return HookResult{}, err
	}
	if err := lifecycle.Stop(ctx, st, nil, name, "session", "exit:"+reason); err != nil {
		return HookResult{}, fmt.Errorf("stopping %s: %w", name, err)
	}
	// Clear the idle-notify dedup slot so a later `start` reusing this name
	// doesn't inherit a stale "already notified recently" state.
	if err := r.notify.ClearSlot(name, slotIdle); err != nil {
		return HookResult{}, fmt.Errorf("clearing notify slot for %s: %w", name, err)
	}
	return Success(""), nil
}

// handleSubagentStart and handleSubagentStop are registered so the table
// documents the hook type's existence; full Task-subagent tracking lives
// above this package.
func handleSubagentStart(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	return Success(""), nil
}

func handleSubagentStop(ctx context.Context, st *store.Store, p Payload) (HookResult, error) {
	return Success(""), nil
}
