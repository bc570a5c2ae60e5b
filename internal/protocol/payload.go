// Package protocol normalizes hook invocations from the three supported
// tools into one shape and dispatches them to typed handlers (spec §6, §9).
package protocol

// Tool identifies which assistant CLI fired a hook.
type Tool string

const (
	ToolClaude Tool = "claude"
	ToolGemini Tool = "gemini"
	ToolCodex  Tool = "codex"
)

// HookType names a point in a tool's lifecycle that can invoke hcom. The
// strings match what each tool's hook-installer scripts pass in argv
// (Claude, Gemini) or what the codex notify payload's "type" field carries.
type HookType string

const (
	HookPreToolUse       HookType = "pre"
	HookPostToolUse      HookType = "post"
	HookPoll             HookType = "poll" // Stop hook, vanilla polling delivery
	HookNotify           HookType = "notify"
	HookUserPromptSubmit HookType = "userpromptsubmit"
	HookSessionStart     HookType = "sessionstart"
	HookSessionEnd       HookType = "sessionend"
	HookSubagentStart    HookType = "subagent-start"
	HookSubagentStop     HookType = "subagent-stop"
)

// Payload is the normalized view of a hook invocation, built from whichever
// tool-specific stdin/argv shape fired it. Any field may be empty; handlers
// must not assume a field they need is populated.
type Payload struct {
	Tool           Tool
	HookType       HookType
	ProcessID      string // HCOM_PROCESS_ID from the hook's environment (spec §6)
	SessionID      string
	TranscriptPath string
	ToolName       string
	ToolInput      map[string]any
	ToolResult     any
	EventType      string // codex notify payload's "type" field
	ThreadID       string // codex's thread-id, doubles as SessionID there
	AgentID        string
	AgentType      string
	NotificationType string
	Raw            map[string]any
}

// Get returns raw[key] (not one of the normalized fields above), or
// (nil, false) if absent. Handlers use this for tool-specific extras the
// normalized shape doesn't name, mirroring HookPayload.get in the Python
// implementation.
func (p Payload) Get(key string) (any, bool) {
	v, ok := p.Raw[key]
	return v, ok
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// FromClaude builds a Payload from Claude Code's hook stdin JSON:
// {session_id, transcript_path, tool_name?, tool_input?, tool_response?,
// agent_id?, agent_type?}, with hook_type carried separately in argv.
func FromClaude(stdin map[string]any, hookType HookType) Payload {
	return Payload{
		Tool:           ToolClaude,
		HookType:       hookType,
		SessionID:      asString(stdin["session_id"]),
		TranscriptPath: asString(stdin["transcript_path"]),
		ToolName:       asString(stdin["tool_name"]),
		ToolInput:      asMap(stdin["tool_input"]),
		ToolResult:     stdin["tool_response"],
		AgentID:        asString(stdin["agent_id"]),
		AgentType:      asString(stdin["agent_type"]),
		Raw:            stdin,
	}
}

// FromGemini builds a Payload from Gemini CLI's hook stdin JSON, which uses
// alternative key names for the same concepts (sessionId, session_path,
// toolName, toolInput) and nests its tool output under tool_response, whose
// payload may carry llmContent, output, or a nested response.output.
func FromGemini(stdin map[string]any, hookType HookType) Payload {
	sessionID := asString(stdin["sessionId"])
	if sessionID == "" {
		sessionID = asString(stdin["session_id"])
	}
	transcript := asString(stdin["session_path"])
	if transcript == "" {
		transcript = asString(stdin["transcript_path"])
	}
	toolName := asString(stdin["toolName"])
	if toolName == "" {
		toolName = asString(stdin["tool_name"])
	}
	toolInput := asMap(stdin["toolInput"])
	if toolInput == nil {
		toolInput = asMap(stdin["tool_input"])
	}

	return Payload{
		Tool:           ToolGemini,
		HookType:       hookType,
		SessionID:      sessionID,
		TranscriptPath: transcript,
		ToolName:       toolName,
		ToolInput:      toolInput,
		ToolResult:     geminiToolResult(stdin),
		Raw:            stdin,
	}
}

// geminiToolResult extracts a tool's textual result from whichever shape
// Gemini used this round: a bare llmContent/output string, or a nested
// response.output.
func geminiToolResult(stdin map[string]any) any {
	tr := asMap(stdin["tool_response"])
	if tr == nil {
		return nil
	}
	if v, ok := tr["llmContent"]; ok {
		return v
	}
	if v, ok := tr["output"]; ok {
		return v
	}
	if resp := asMap(tr["response"]); resp != nil {
		if v, ok := resp["output"]; ok {
			return v
		}
	}
	return tr
}

// FromCodex builds a Payload from Codex's single notify hook: a JSON object
// with {type, thread-id, turn-id, cwd, input-messages, last-assistant-message}.
// Codex has no separate session_id; thread-id doubles as one.
func FromCodex(notify map[string]any) Payload {
	threadID := asString(notify["thread-id"])
	return Payload{
		Tool:             ToolCodex,
		HookType:         HookNotify,
		SessionID:        threadID,
		ThreadID:         threadID,
		EventType:        asString(notify["type"]),
		NotificationType: asString(notify["type"]),
		ToolResult:       notify["last-assistant-message"],
		Raw:              notify,
	}
}
