package pushengine

import "time"

// PTYLike is the subset of a PTY wrapper the gate needs to answer "is it
// safe to inject a line right now" (spec §4.6). Each tool (Claude-PTY,
// Gemini, Codex) implements this against its own screen model.
type PTYLike interface {
	IsWaitingApproval() bool
	IsUserActive() bool
	IsReady() bool
	IsOutputStable(since time.Duration) bool
	IsPromptEmpty() bool
}

// GateResult is the outcome of evaluating a DeliveryGate: either safe, or
// blocked with a reason suitable for debounced logging and status context.
type GateResult struct {
	Safe   bool
	Reason string
}

// DeliveryGate answers one question: if we inject a single line + Enter
// right now, will it land as a fresh user turn without clobbering an
// approval prompt, a running command, or the user's typing? Checks are
// evaluated in order; the first failure is returned as the reason.
type DeliveryGate struct {
	RequireIdle                bool
	RequireReadyPrompt         bool
	RequirePromptEmpty         bool // Claude only
	RequireOutputStableSeconds float64
	BlockOnUserActivity        bool
	BlockOnApproval            bool
}

// DefaultGate matches the conservative default used by Gemini/Codex.
func DefaultGate() DeliveryGate {
	return DeliveryGate{
		RequireReadyPrompt:         true,
		RequireOutputStableSeconds: 1.0,
		BlockOnUserActivity:        true,
		BlockOnApproval:            true,
	}
}

// ClaudeGate additionally requires an empty prompt (Claude hides the ready
// token in accept-edits mode, so require_ready_prompt is disabled and
// require_prompt_empty substitutes for it).
func ClaudeGate() DeliveryGate {
	g := DefaultGate()
	g.RequireReadyPrompt = false
	g.RequirePromptEmpty = true
	return g
}

// Evaluate checks gate conditions against the current screen. It does not
// log; callers debounce logging themselves (see logGateBlock).
func (g DeliveryGate) Evaluate(pty PTYLike, isIdle bool) GateResult {
	if g.RequireIdle && !isIdle {
		return GateResult{false, "not_idle"}
	}
	if g.BlockOnApproval && pty.IsWaitingApproval() {
		return GateResult{false, "approval"}
	}
	if g.BlockOnUserActivity && pty.IsUserActive() {
		return GateResult{false, "user_active"}
	}
	if g.RequireReadyPrompt && !pty.IsReady() {
		return GateResult{false, "not_ready"}
	}
	if g.RequirePromptEmpty && !pty.IsPromptEmpty() {
		return GateResult{false, "prompt_has_text"}
	}
	if g.RequireOutputStableSeconds > 0 {
		window := time.Duration(g.RequireOutputStableSeconds * float64(time.Second))
		if !pty.IsOutputStable(window) {
			return GateResult{false, "output_unstable"}
		}
	}
	return GateResult{true, "ok"}
}

// RetryPolicy computes the backoff delay for a given attempt number.
type RetryPolicy interface {
	Delay(attempt int, pendingFor time.Duration) time.Duration
}

// TwoPhaseRetry is the default backoff (spec §4.6): exponential up to
// WarmMaximum for the first WarmSeconds of continuous pending state, then
// a higher ColdMaximum cap thereafter.
type TwoPhaseRetry struct {
	Initial     time.Duration
	Multiplier  float64
	WarmMaximum time.Duration
	WarmSeconds time.Duration
	ColdMaximum time.Duration
}

// DefaultRetryPolicy matches the spec's stated defaults.
func DefaultRetryPolicy() TwoPhaseRetry {
	return TwoPhaseRetry{
		Initial:     250 * time.Millisecond,
		Multiplier:  2.0,
		WarmMaximum: 2 * time.Second,
		WarmSeconds: 60 * time.Second,
		ColdMaximum: 5 * time.Second,
	}
}

func (r TwoPhaseRetry) Delay(attempt int, pendingFor time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(r.Initial)
	for i := 1; i < attempt; i++ {
		d *= r.Multiplier
	}
	max := r.WarmMaximum
	if pendingFor >= r.WarmSeconds {
		max = r.ColdMaximum
	}
	if time.Duration(d) > max {
		return max
	}
	return time.Duration(d)
}
