// Package pushengine implements the idle/pending/verifying delivery state
// machine described in spec §4.6 — one instance runs inside each PTY
// wrapper (Claude-PTY, Gemini, Codex), injecting a wake trigger into the
// tool's prompt only when the DeliveryGate judges it safe, then confirming
// delivery by watching the instance's store cursor advance.
package pushengine

import (
	"context"
	"time"

	"github.com/hcomhq/hcom/internal/logx"
	"github.com/hcomhq/hcom/internal/store"
)

// state is the engine's position in the idle/pending/verifying machine.
type state int

const (
	stateIdle state = iota
	statePending
	stateVerifying
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case statePending:
		return "pending"
	case stateVerifying:
		return "verifying"
	}
	return "unknown"
}

// Notifier is the wake primitive the engine blocks on between attempts.
// notifybus.AcceptNotifier (built from a notifybus.Bus.Listen listener)
// satisfies this directly.
type Notifier interface {
	// Wait blocks until notified or timeout elapses. Returns true if
	// notified before the timeout.
	Wait(timeout time.Duration) bool
	Close() error
}

// Config wires an Engine to its tool-specific collaborators.
type Config struct {
	InstanceName string
	Store        *store.Store
	Notifier     Notifier
	PTY          PTYLike
	Gate         DeliveryGate
	Retry        RetryPolicy

	// HasPending reports whether unread messages exist for this instance.
	HasPending func(ctx context.Context) (bool, error)
	// TryDeliver writes the trigger string + Enter into the PTY. Returns
	// false if the injection itself failed (e.g. the pane is gone).
	TryDeliver func(ctx context.Context) (bool, error)
	// TryEnter sends just the Enter key, for the cheap "text buffered but
	// not submitted" retry. May be nil, in which case retries always use
	// TryDeliver.
	TryEnter func(ctx context.Context) (bool, error)
	// IsIdle reports the DB-derived idle signal (status == "listening").
	// Required when Gate.RequireIdle is set.
	IsIdle func(ctx context.Context) (bool, error)
	// GetCursor returns the instance's current last_event_id. Required to
	// enable delivery verification; a nil GetCursor degrades to "assume
	// try_deliver's return value is the delivery outcome".
	GetCursor func(ctx context.Context) (int64, error)
	// RebindCheck re-reads the process binding each iteration. It returns
	// the canonical instance name and whether one is currently bound; a
	// name change (reclaim, fork, `--as`) rebinds the engine in place, and
	// an unbound result suspends delivery without exiting the loop (spec
	// §4.6 "Binding refresh").
	RebindCheck func(ctx context.Context) (name string, bound bool, err error)

	IdleWait         time.Duration
	VerifyTimeout    time.Duration
	MaxVerifyRetries int
}

// Engine runs the notify-driven delivery loop for one PTY-attached
// instance (spec §4.6).
type Engine struct {
	cfg Config

	state           state
	attempt         int
	pendingSince    time.Time
	blockSince      time.Time
	cursorBefore    int64
	injectedAt      time.Time
	verifyRetries   int
	lastBlockReason string
	lastBlockLogAt  time.Time
	bound           bool
}

// New constructs an Engine from cfg, applying defaults for zero-valued
// timing fields.
func New(cfg Config) *Engine {
	if cfg.IdleWait == 0 {
		cfg.IdleWait = 30 * time.Second
	}
	if cfg.VerifyTimeout == 0 {
		cfg.VerifyTimeout = 2 * time.Second
	}
	if cfg.MaxVerifyRetries == 0 {
		cfg.MaxVerifyRetries = 5
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Engine{cfg: cfg, state: stateIdle, bound: true}
}

// Run drives the delivery loop until ctx is cancelled. A crash-equivalent
// error marks the instance status=error, context=pty:crash and returns,
// per spec §4.6 failure semantics — the caller's PTY session is unaffected.
func (e *Engine) Run(ctx context.Context) error {
	defer e.cfg.Notifier.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		e.refreshBinding(ctx)
		if !e.bound {
			// Owning row was reset or stolen: stay alive but never
			// deliver until a fresh start rebinds us.
			e.cfg.Notifier.Wait(e.cfg.IdleWait)
			continue
		}

		var err error
		switch e.state {
		case stateIdle:
			err = e.stepIdle(ctx)
		case statePending:
			err = e.stepPending(ctx)
		case stateVerifying:
			err = e.stepVerifying(ctx)
		}
		if err != nil {
			e.markCrashed(ctx, err)
			return err
		}
	}
}

// refreshBinding re-reads the process binding. If the canonical instance
// name changed, it rebinds the engine to the new name (the wrapper is
// responsible for migrating notify endpoints and the terminal title). If
// unbound, delivery is suspended without exiting Run.
func (e *Engine) refreshBinding(ctx context.Context) {
	if e.cfg.RebindCheck == nil {
		return
	}
	name, bound, err := e.cfg.RebindCheck(ctx)
	if err != nil {
		return
	}
	e.bound = bound
	if bound && name != "" && name != e.cfg.InstanceName {
		logx.Info("pushengine", "rebind", logx.F("from", e.cfg.InstanceName), logx.F("to", name))
		e.cfg.InstanceName = name
	}
}

func (e *Engine) markCrashed(ctx context.Context, cause error) {
	logx.Error("pushengine", "crash", logx.F("instance", e.cfg.InstanceName), logx.F("error", cause.Error()))
	status := "error"
	statusCtx := "pty:crash"
	_ = e.cfg.Store.UpdateInstance(ctx, e.cfg.InstanceName, store.InstanceUpdate{
		Status:        &status,
		StatusContext: &statusCtx,
	})
}

func (e *Engine) stepIdle(ctx context.Context) error {
	e.cfg.Notifier.Wait(e.cfg.IdleWait)
	if ctx.Err() != nil {
		return nil
	}
	pending, err := e.cfg.HasPending(ctx)
	if err != nil {
		return err
	}
	if pending {
		e.toPending("messages_arrived")
	}
	return nil
}

func (e *Engine) toPending(reason string) {
	e.state = statePending
	e.pendingSince = time.Now()
	logx.Info("pushengine", "delivery.state", logx.F("state", "pending"), logx.F("reason", reason), logx.F("instance", e.cfg.InstanceName))
}

func (e *Engine) toIdle(reason string) {
	e.state = stateIdle
	e.pendingSince = time.Time{}
	logx.Info("pushengine", "delivery.state", logx.F("state", "idle"), logx.F("reason", reason), logx.F("instance", e.cfg.InstanceName))
}

func (e *Engine) toVerifying(reason string) {
	e.state = stateVerifying
	logx.Info("pushengine", "delivery.state", logx.F("state", "verifying"), logx.F("reason", reason), logx.F("instance", e.cfg.InstanceName))
}

func (e *Engine) isIdle(ctx context.Context) bool {
	if e.cfg.IsIdle == nil {
		return true
	}
	idle, err := e.cfg.IsIdle(ctx)
	if err != nil {
		return false
	}
	return idle
}

// stepPending evaluates the gate and either injects or backs off.
func (e *Engine) stepPending(ctx context.Context) error {
	result := e.cfg.Gate.Evaluate(e.cfg.PTY, e.isIdle(ctx))
	if !result.Safe {
		e.logGateBlock(result.Reason)
		e.updateGateBlockStatus(ctx, result.Reason)
		if e.checkStabilityRecovery(ctx, result.Reason) {
			// Re-evaluate immediately on the next iteration rather than
			// paying the current backoff delay.
			return nil
		}
		e.attempt++
		return e.backoff(ctx)
	}

	if e.cfg.GetCursor != nil {
		cursor, err := e.cfg.GetCursor(ctx)
		if err != nil {
			return err
		}
		e.cursorBefore = cursor
	}

	ok, err := e.cfg.TryDeliver(ctx)
	if err != nil {
		return err
	}
	if !ok {
		e.attempt++
		return e.backoff(ctx)
	}

	if e.cfg.GetCursor != nil {
		e.injectedAt = time.Now()
		e.verifyRetries = 0
		e.toVerifying("injected")
		return nil
	}

	// Legacy mode: no cursor to verify against, assume success.
	e.clearGateBlockStatus(ctx)
	e.attempt = 0
	e.blockSince = time.Time{}
	pending, err := e.cfg.HasPending(ctx)
	if err != nil {
		return err
	}
	if pending {
		e.toPending("delivered_more_remaining")
	} else {
		e.toIdle("delivered")
	}
	return nil
}

// backoff waits out the current retry delay, snapping back to attempt=0 if
// notified early, then re-checks whether anything is still pending.
func (e *Engine) backoff(ctx context.Context) error {
	var pendingFor time.Duration
	if !e.pendingSince.IsZero() {
		pendingFor = time.Since(e.pendingSince)
	}
	delay := e.cfg.Retry.Delay(e.attempt, pendingFor)
	if delay <= 0 {
		return nil
	}
	notified := e.cfg.Notifier.Wait(delay)
	if notified {
		e.attempt = 0
	}
	if ctx.Err() != nil {
		return nil
	}
	pending, err := e.cfg.HasPending(ctx)
	if err != nil {
		return err
	}
	if !pending {
		e.toIdle("backoff_drained")
		e.attempt = 0
		e.blockSince = time.Time{}
	}
	return nil
}

// stepVerifying watches for cursor advance confirming the hook drained the
// message, retrying injection on timeout up to MaxVerifyRetries.
func (e *Engine) stepVerifying(ctx context.Context) error {
	if e.cfg.GetCursor == nil {
		// No verification available: assume delivered.
		pending, err := e.cfg.HasPending(ctx)
		if err != nil {
			return err
		}
		if pending {
			e.toPending("unverified_more_remaining")
		} else {
			e.toIdle("unverified_delivered")
		}
		e.attempt = 0
		e.blockSince = time.Time{}
		return nil
	}

	cursor, err := e.cfg.GetCursor(ctx)
	if err != nil {
		return err
	}
	if cursor > e.cursorBefore {
		e.clearGateBlockStatus(ctx)
		pending, err := e.cfg.HasPending(ctx)
		if err != nil {
			return err
		}
		if pending {
			e.toPending("cursor_advanced_more_messages")
		} else {
			e.toIdle("cursor_advanced_delivered")
		}
		e.attempt = 0
		e.blockSince = time.Time{}
		e.verifyRetries = 0
		return nil
	}

	elapsed := time.Since(e.injectedAt)
	if elapsed <= e.cfg.VerifyTimeout {
		e.cfg.Notifier.Wait(250 * time.Millisecond)
		return nil
	}

	logx.Warn("pushengine", "delivery.timeout", logx.F("instance", e.cfg.InstanceName))

	if e.verifyRetries >= e.cfg.MaxVerifyRetries {
		logx.Error("pushengine", "delivery.max_retries", logx.F("instance", e.cfg.InstanceName), logx.F("retries", e.verifyRetries))
		e.verifyRetries = 0
		e.attempt++
		e.toPending("max_retries_exceeded")
		return nil
	}

	// Only critical gates apply to a retry: the screen is mid-injection so
	// is_ready/is_output_stable cannot be trusted.
	if e.cfg.Gate.BlockOnApproval && e.cfg.PTY.IsWaitingApproval() {
		e.cfg.Notifier.Wait(500 * time.Millisecond)
		return nil
	}
	if e.cfg.Gate.BlockOnUserActivity && e.cfg.PTY.IsUserActive() {
		e.cfg.Notifier.Wait(500 * time.Millisecond)
		return nil
	}
	if e.cfg.Gate.RequireIdle && !e.isIdle(ctx) {
		e.cfg.Notifier.Wait(500 * time.Millisecond)
		return nil
	}

	cursorBefore, err := e.cfg.GetCursor(ctx)
	if err != nil {
		return err
	}
	e.cursorBefore = cursorBefore

	var ok bool
	if e.verifyRetries == 0 && e.cfg.TryEnter != nil {
		ok, err = e.cfg.TryEnter(ctx)
		e.toVerifying("retry_enter_only")
	} else {
		ok, err = e.cfg.TryDeliver(ctx)
		e.toVerifying("retry_full_inject")
	}
	if err != nil {
		return err
	}
	e.verifyRetries++
	if ok {
		e.injectedAt = time.Now()
		return nil
	}
	e.attempt++
	e.toPending("retry_failed")
	return nil
}

// logGateBlock logs a gate block with a 5-second debounce for the same
// reason, so a persistently-blocked gate doesn't flood the log.
func (e *Engine) logGateBlock(reason string) {
	now := time.Now()
	if reason != e.lastBlockReason || now.Sub(e.lastBlockLogAt) >= 5*time.Second {
		logx.Info("pushengine", "gate.blocked", logx.F("instance", e.cfg.InstanceName), logx.F("reason", reason))
		e.lastBlockReason = reason
		e.lastBlockLogAt = now
	}
}

// updateGateBlockStatus surfaces a persistent gate block (≥2s) in the
// instance's status_context, but only while status is still "listening" —
// it must never clobber active/blocked set by something else.
func (e *Engine) updateGateBlockStatus(ctx context.Context, reason string) {
	if e.blockSince.IsZero() {
		e.blockSince = time.Now()
		return
	}
	if time.Since(e.blockSince) < 2*time.Second {
		return
	}
	in, err := e.cfg.Store.GetInstance(ctx, e.cfg.InstanceName)
	if err != nil || in == nil || in.Status != "listening" {
		return
	}

	if reason == "approval" {
		if in.StatusContext == "pty:approval" {
			return
		}
		status := "blocked"
		statusCtx := "pty:approval"
		detail := "waiting for user approval"
		_ = e.cfg.Store.UpdateInstance(ctx, e.cfg.InstanceName, store.InstanceUpdate{
			Status: &status, StatusContext: &statusCtx, StatusDetail: &detail,
		})
		return
	}

	context := "tui:" + dashify(reason)
	if in.StatusContext == context {
		return
	}
	detail := gateBlockDetail[reason]
	_ = e.cfg.Store.UpdateInstance(ctx, e.cfg.InstanceName, store.InstanceUpdate{
		StatusContext: &context, StatusDetail: &detail,
	})
}

var gateBlockDetail = map[string]string{
	"not_idle":         "waiting for idle status",
	"user_active":      "user is typing",
	"not_ready":        "prompt not visible",
	"output_unstable":  "output still streaming",
	"prompt_has_text":  "uncommitted text in prompt",
}

func dashify(reason string) string {
	out := []byte(reason)
	for i, c := range out {
		if c == '_' {
			out[i] = '-'
		}
	}
	return string(out)
}

// clearGateBlockStatus clears a previously surfaced gate-block status once
// delivery succeeds.
func (e *Engine) clearGateBlockStatus(ctx context.Context) {
	in, err := e.cfg.Store.GetInstance(ctx, e.cfg.InstanceName)
	if err != nil || in == nil {
		return
	}
	if in.Status == "listening" && len(in.StatusContext) >= 4 && in.StatusContext[:4] == "tui:" {
		empty := ""
		_ = e.cfg.Store.UpdateInstance(ctx, e.cfg.InstanceName, store.InstanceUpdate{
			StatusContext: &empty, StatusDetail: &empty,
		})
		return
	}
	if in.Status == "blocked" && in.StatusContext == "pty:approval" {
		status := "listening"
		statusCtx := "ready"
		_ = e.cfg.Store.UpdateInstance(ctx, e.cfg.InstanceName, store.InstanceUpdate{
			Status: &status, StatusContext: &statusCtx,
		})
	}
}

// checkStabilityRecovery handles the "user pressed Esc but the tool never
// emitted end-of-turn" case: if the gate is stuck on not_idle but the
// instance's own status claims active and the screen has been stable for
// 10s, force it back to listening so the loop can make progress again.
func (e *Engine) checkStabilityRecovery(ctx context.Context, reason string) bool {
	if reason != "not_idle" {
		return false
	}
	in, err := e.cfg.Store.GetInstance(ctx, e.cfg.InstanceName)
	if err != nil || in == nil || in.Status != "active" {
		return false
	}
	if !e.cfg.PTY.IsOutputStable(10 * time.Second) {
		return false
	}
	status := "listening"
	statusCtx := "pty:recovered"
	_ = e.cfg.Store.UpdateInstance(ctx, e.cfg.InstanceName, store.InstanceUpdate{
		Status: &status, StatusContext: &statusCtx,
	})
	logx.Info("pushengine", "status.recovered", logx.F("instance", e.cfg.InstanceName), logx.F("reason", "stable_10s"))
	e.attempt = 0
	return true
}
