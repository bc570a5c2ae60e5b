package protocol

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hcom.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// newTestRegistry builds a Registry with its notify-dedupe state rooted
// under a scratch directory, so tests never touch a real hcom home dir.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistryWithDedupe(filepath.Join(t.TempDir(), "notify-state"), time.Minute)
}

func TestFromClaudeMapsStandardFields(t *testing.T) {
	p := FromClaude(map[string]any{
		"session_id":      "sess-1",
		"transcript_path": "/tmp/t.jsonl",
		"tool_name":       "Bash",
		"tool_input":      map[string]any{"command": "ls"},
	}, HookPreToolUse)

	if p.Tool != ToolClaude || p.HookType != HookPreToolUse {
		t.Fatalf("unexpected tool/hookType: %+v", p)
	}
	if p.SessionID != "sess-1" || p.ToolName != "Bash" {
		t.Errorf("unexpected normalized fields: %+v", p)
	}
	if p.ToolInput["command"] != "ls" {
		t.Errorf("expected tool_input preserved, got %+v", p.ToolInput)
	}
}

func TestFromGeminiUsesAlternativeKeyNames(t *testing.T) {
	p := FromGemini(map[string]any{
		"sessionId":    "sess-2",
		"session_path": "/tmp/g.jsonl",
		"toolName":     "write_file",
		"toolInput":    map[string]any{"path": "a.go"},
		"tool_response": map[string]any{
			"response": map[string]any{"output": "done"},
		},
	}, HookPostToolUse)

	if p.SessionID != "sess-2" || p.TranscriptPath != "/tmp/g.jsonl" || p.ToolName != "write_file" {
		t.Fatalf("unexpected normalized fields: %+v", p)
	}
	if p.ToolResult != "done" {
		t.Errorf("expected nested response.output extracted, got %v", p.ToolResult)
	}
}

func TestFromCodexUsesThreadIDAsSessionID(t *testing.T) {
	p := FromCodex(map[string]any{
		"type":                    "agent-turn-complete",
		"thread-id":               "thread-9",
		"last-assistant-message": "all done",
	})

	if p.SessionID != "thread-9" || p.ThreadID != "thread-9" {
		t.Fatalf("expected thread-id as session id, got %+v", p)
	}
	if p.HookType != HookNotify {
		t.Errorf("expected codex payloads normalized to the notify hook type, got %s", p.HookType)
	}
	if p.ToolResult != "all done" {
		t.Errorf("expected last-assistant-message carried as tool result, got %v", p.ToolResult)
	}
}

func TestHookResultConstructorsClassifyCorrectly(t *testing.T) {
	if !Success("ok").IsSuccess() {
		t.Error("Success should be IsSuccess")
	}
	if !Error("boom", 1).IsError() {
		t.Error("Error should be IsError")
	}
	if Error("boom", 0).ExitCode != 1 {
		t.Error("Error should default a zero exit code to 1")
	}
	if !StopWithMessages("hi").IsMessageDelivered() {
		t.Error("StopWithMessages should be IsMessageDelivered")
	}
	if StopWithMessages("hi").IsError() {
		t.Error("exit 2 is not an error")
	}
}

func TestDispatchUnknownHookTypeIsSuccessNotError(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	reg := newTestRegistry(t)

	res, err := reg.Dispatch(ctx, st, Payload{Tool: ToolClaude, HookType: "not-a-real-hook"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.IsSuccess() {
		t.Errorf("expected an unrecognized hook type to pass through as success, got %+v", res)
	}
}

func TestDispatchPreToolUseIsANoOpForAnUnresolvedIdentity(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	reg := newTestRegistry(t)

	res, err := reg.Dispatch(ctx, st, Payload{
		Tool:      ToolClaude,
		HookType:  HookPreToolUse,
		SessionID: "unknown-session",
		ToolName:  "Bash",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.IsSuccess() {
		t.Errorf("expected silent pass-through for a non-participant, got %+v", res)
	}
}

func TestDispatchPreToolUseRecordsActiveStatusForAResolvedInstance(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	reg := newTestRegistry(t)

	if err := st.SaveInstance(ctx, store.Instance{Name: "nova", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := st.SetSessionBinding(ctx, "sess-3", "nova"); err != nil {
		t.Fatalf("SetSessionBinding: %v", err)
	}

	res, err := reg.Dispatch(ctx, st, Payload{
		Tool:      ToolClaude,
		HookType:  HookPreToolUse,
		SessionID: "sess-3",
		ToolName:  "Bash",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v", res)
	}

	in, err := st.GetInstance(ctx, "nova")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if in.Status != "active" || in.StatusContext != "tool:Bash" {
		t.Errorf("expected active/tool:Bash status, got %s/%s", in.Status, in.StatusContext)
	}
}

func TestDispatchPollDeliversUnreadMessagesAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	reg := newTestRegistry(t)

	if err := st.SaveInstance(ctx, store.Instance{Name: "nova", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := st.SetSessionBinding(ctx, "sess-4", "nova"); err != nil {
		t.Fatalf("SetSessionBinding: %v", err)
	}
	if _, _, err := messagebus.Send(ctx, st, nil, nil, messagebus.SendParams{From: "bigboss", Text: "hello nova"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	res, err := reg.Dispatch(ctx, st, Payload{
		Tool:      ToolClaude,
		HookType:  HookPoll,
		SessionID: "sess-4",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.IsMessageDelivered() {
		t.Fatalf("expected exit 2 message-delivered, got %+v", res)
	}
	reason, _ := res.HookOutput["reason"].(string)
	if reason == "" {
		t.Error("expected formatted message text in the block reason")
	}

	in, err := st.GetInstance(ctx, "nova")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if in.LastEventID == 0 {
		t.Error("expected cursor advanced past the delivered message")
	}

	// A second poll with nothing new queued must be a quiet success.
	res2, err := reg.Dispatch(ctx, st, Payload{Tool: ToolClaude, HookType: HookPoll, SessionID: "sess-4"})
	if err != nil {
		t.Fatalf("Dispatch (second poll): %v", err)
	}
	if !res2.IsSuccess() {
		t.Errorf("expected no-op success on an empty poll, got %+v", res2)
	}
}

func TestDispatchSessionEndStopsTheInstance(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	reg := newTestRegistry(t)

	if err := st.SaveInstance(ctx, store.Instance{Name: "nova", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := st.SetSessionBinding(ctx, "sess-5", "nova"); err != nil {
		t.Fatalf("SetSessionBinding: %v", err)
	}

	res, err := reg.Dispatch(ctx, st, Payload{Tool: ToolClaude, HookType: HookSessionEnd, SessionID: "sess-5"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v", res)
	}

	in, err := st.GetInstance(ctx, "nova")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if in != nil {
		t.Errorf("expected instance removed after session end, got %+v", in)
	}
}

func TestDispatchNotifyDedupesRepeatedFirings(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	reg := NewRegistryWithDedupe(filepath.Join(t.TempDir(), "notify-state"), time.Hour)

	if err := st.SaveInstance(ctx, store.Instance{Name: "nova", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := st.SetSessionBinding(ctx, "sess-6", "nova"); err != nil {
		t.Fatalf("SetSessionBinding: %v", err)
	}

	req := Payload{Tool: ToolClaude, HookType: HookNotify, SessionID: "sess-6"}
	if _, err := reg.Dispatch(ctx, st, req); err != nil {
		t.Fatalf("Dispatch (first notify): %v", err)
	}
	before, err := st.GetInstance(ctx, "nova")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if before.Status != "listening" {
		t.Fatalf("expected first notify to record listening status, got %s", before.Status)
	}
	firstEvents, err := st.EventsAfter(ctx, 0, []store.EventType{store.EventStatus}, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}

	// A second firing within the dedupe window must not append another
	// status event.
	if _, err := reg.Dispatch(ctx, st, req); err != nil {
		t.Fatalf("Dispatch (second notify): %v", err)
	}
	afterEvents, err := st.EventsAfter(ctx, 0, []store.EventType{store.EventStatus}, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(afterEvents) != len(firstEvents) {
		t.Errorf("expected repeated notify within the window to be suppressed, status events went from %d to %d",
			len(firstEvents), len(afterEvents))
	}
}

func TestDispatchNotifyFiresAgainAfterToolActivity(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	reg := NewRegistryWithDedupe(filepath.Join(t.TempDir(), "notify-state"), time.Hour)

	if err := st.SaveInstance(ctx, store.Instance{Name: "nova", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := st.SetSessionBinding(ctx, "sess-7", "nova"); err != nil {
		t.Fatalf("SetSessionBinding: %v", err)
	}

	notify := Payload{Tool: ToolClaude, HookType: HookNotify, SessionID: "sess-7"}
	if _, err := reg.Dispatch(ctx, st, notify); err != nil {
		t.Fatalf("Dispatch (notify): %v", err)
	}

	// Real activity in between should clear the dedupe slot.
	pre := Payload{Tool: ToolClaude, HookType: HookPreToolUse, SessionID: "sess-7", ToolName: "Bash"}
	if _, err := reg.Dispatch(ctx, st, pre); err != nil {
		t.Fatalf("Dispatch (pre-tool-use): %v", err)
	}

	if _, err := reg.Dispatch(ctx, st, notify); err != nil {
		t.Fatalf("Dispatch (second notify): %v", err)
	}
	in, err := st.GetInstance(ctx, "nova")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if in.Status != "listening" {
		t.Errorf("expected notify to re-fire after intervening activity, got status %s", in.Status)
	}
}
