package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/hcomhq/hcom/internal/store"
)

func TestCreateInstanceFreshSeedsCursorToCurrentMax(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if _, err := st.AppendEvent(ctx, store.EventMessage, "someone", map[string]string{"hello": "world"}, time.Time{}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	in, err := CreateInstance(ctx, st, CreateParams{Name: "kivo", Tool: "claude"})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if in.LastEventID != 1 {
		t.Errorf("LastEventID = %d, want 1 (skip pre-existing history)", in.LastEventID)
	}
	if in.StatusContext != "new" {
		t.Errorf("StatusContext = %q, want new", in.StatusContext)
	}
}

func TestCreateInstanceHonorsValidBatchLaunchEventID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	id1, _ := st.AppendEvent(ctx, store.EventMessage, "a", map[string]string{}, time.Time{})
	st.AppendEvent(ctx, store.EventMessage, "b", map[string]string{}, time.Time{})

	in, err := CreateInstance(ctx, st, CreateParams{Name: "kivo", Tool: "claude", BatchLaunchEventID: id1})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if in.LastEventID != id1 {
		t.Errorf("LastEventID = %d, want %d (batch launch cursor honored)", in.LastEventID, id1)
	}
}

func TestCreateInstanceIgnoresBatchLaunchEventIDBeyondCurrentMax(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	maxID, _ := st.GetLastEventID(ctx)

	in, err := CreateInstance(ctx, st, CreateParams{Name: "kivo", Tool: "claude", BatchLaunchEventID: maxID + 100})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if in.LastEventID != maxID {
		t.Errorf("LastEventID = %d, want %d (stale batch id rejected)", in.LastEventID, maxID)
	}
}

func TestCreateInstanceIsIdempotentAndFillsPlaceholder(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	first, err := CreateInstance(ctx, st, CreateParams{Name: "kivo", Tool: "claude"})
	if err != nil {
		t.Fatalf("first CreateInstance: %v", err)
	}
	if first.SessionID != "" {
		t.Fatalf("expected placeholder with no session id")
	}

	second, err := CreateInstance(ctx, st, CreateParams{Name: "kivo", Tool: "claude", SessionID: "sess-1", AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("second CreateInstance: %v", err)
	}
	if second.SessionID != "sess-1" || second.AgentID != "agent-1" {
		t.Errorf("placeholder not filled in: %+v", second)
	}
	if second.LastEventID != first.LastEventID {
		t.Errorf("idempotent fill should not touch the cursor: got %d, want %d", second.LastEventID, first.LastEventID)
	}
}
