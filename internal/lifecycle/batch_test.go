package lifecycle

import (
	"context"
	"strings"
	"testing"

	"github.com/hcomhq/hcom/internal/store"
)

func TestBatchReadinessNotifiesOnceWhenLastInstanceReadies(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	w := &fakeWaker{}

	if _, err := RecordBatchLaunched(ctx, st, "launcher", "batch-1", 2); err != nil {
		t.Fatalf("RecordBatchLaunched: %v", err)
	}

	if _, err := Start(ctx, st, w, StartParams{CreateParams: CreateParams{Name: "kivo", Tool: "claude", BatchID: "batch-1"}}); err != nil {
		t.Fatalf("Start kivo: %v", err)
	}

	// Only one of two ready so far: no launcher message yet.
	msgs, err := st.EventsAfter(ctx, 0, []store.EventType{store.EventMessage}, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no readiness message yet, got %d", len(msgs))
	}

	if _, err := Start(ctx, st, w, StartParams{CreateParams: CreateParams{Name: "zaro", Tool: "claude", BatchID: "batch-1"}}); err != nil {
		t.Fatalf("Start zaro: %v", err)
	}

	msgs, err = st.EventsAfter(ctx, 0, []store.EventType{store.EventMessage}, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one readiness message once the batch fills, got %d", len(msgs))
	}
	if !strings.Contains(string(msgs[0].Data), "batch-1") {
		t.Errorf("expected batch id in readiness message: %s", msgs[0].Data)
	}
}

func TestBatchReadinessIsANoOpWithoutBatchID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	w := &fakeWaker{}

	if _, err := Start(ctx, st, w, StartParams{CreateParams: CreateParams{Name: "kivo", Tool: "claude"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	msgs, err := st.EventsAfter(ctx, 0, []store.EventType{store.EventMessage}, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no system messages without a batch id, got %d", len(msgs))
	}
}
