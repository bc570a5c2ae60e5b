package protocol

// HookResult replaces exceptions-for-control-flow in the hook path (spec
// §9): every handler returns one of these instead of exiting the process
// directly, so the daemon can turn it into a socket response and a direct
// hook invocation can turn it into an exit code + stdout/stderr.
type HookResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	HookOutput map[string]any
}

// Success is the default "nothing to report" result: exit 0, no output.
func Success(stdout string) HookResult {
	return HookResult{ExitCode: 0, Stdout: stdout}
}

// Error surfaces a handler failure to the caller: nonzero exit, message on
// stderr. Errors raised above the handler boundary are logged and mapped to
// this, never left to propagate as a bare process crash.
func Error(message string, exitCode int) HookResult {
	if exitCode == 0 {
		exitCode = 1
	}
	return HookResult{ExitCode: exitCode, Stderr: message}
}

// StopWithMessages is the Stop hook's "message available" path: exit 2 with
// a block decision carrying the delivered text as additional context, which
// Claude Code folds back into the transcript before ending the turn.
func StopWithMessages(context string) HookResult {
	return HookResult{
		ExitCode: 2,
		HookOutput: map[string]any{
			"decision": "block",
			"reason":   context,
		},
	}
}

// AllowWithContext permits the tool call to proceed, attaching extra
// context the assistant should see (e.g. a just-delivered message).
func AllowWithContext(hookEvent, context string) HookResult {
	return HookResult{
		ExitCode: 0,
		HookOutput: map[string]any{
			"hookSpecificOutput": map[string]any{
				"hookEventName":     hookEvent,
				"additionalContext": context,
			},
		},
	}
}

// WithUpdatedInput rewrites the tool call's input before it runs (used for
// Task-tool prompt injection).
func WithUpdatedInput(hookEvent string, updatedInput map[string]any) HookResult {
	return HookResult{
		ExitCode: 0,
		HookOutput: map[string]any{
			"hookSpecificOutput": map[string]any{
				"hookEventName": hookEvent,
				"updatedInput":  updatedInput,
			},
		},
	}
}

// IsSuccess reports whether the handler completed normally.
func (r HookResult) IsSuccess() bool { return r.ExitCode == 0 }

// IsError reports a genuine failure, as opposed to the Stop hook's exit-2
// "message delivered" signal.
func (r HookResult) IsError() bool { return r.ExitCode != 0 && r.ExitCode != 2 }

// IsMessageDelivered reports the Stop hook's "message available" path.
func (r HookResult) IsMessageDelivered() bool { return r.ExitCode == 2 }
