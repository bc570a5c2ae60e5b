package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/hcomhq/hcom/internal/store"
)

func TestCreateSeedsCursorToCurrentMaxAndPersists(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	lastID, err := st.AppendEvent(ctx, store.EventMessage, "zaro", map[string]string{"text": "before"}, time.Time{})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	sub, err := Create(ctx, st, "kivo", "type = 'status'", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("expected a non-empty subscription id")
	}
	if sub.LastSeenEventID != lastID {
		t.Errorf("LastSeenEventID = %d, want current max %d", sub.LastSeenEventID, lastID)
	}

	all, err := List(ctx, st)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].ID != sub.ID {
		t.Fatalf("expected the created subscription to be listed, got %+v", all)
	}
}

func TestDeleteRemovesSubscription(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	sub, err := Create(ctx, st, "kivo", "type = 'status'", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := Delete(ctx, st, sub.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	all, err := List(ctx, st)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no subscriptions after delete, got %+v", all)
	}
}

func TestDeleteUnknownIDIsANoOp(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if err := Delete(ctx, st, "does-not-exist"); err != nil {
		t.Fatalf("Delete on unknown id should not error: %v", err)
	}
}
