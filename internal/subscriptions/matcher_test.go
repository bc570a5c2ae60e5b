package subscriptions

import (
	"context"
	"testing"

	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/store"
)

func TestInstallDeliversSystemMessageWhenIdlePresetMatches(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	w := &fakeWaker{}

	if err := st.SaveInstance(ctx, store.Instance{Name: "kivo", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	pred, err := Preset("idle:kivo")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if _, err := Create(ctx, st, "kivo", pred, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	Install(st, w)

	if err := messagebus.EmitListening(ctx, st, "kivo"); err != nil {
		t.Fatalf("EmitListening: %v", err)
	}

	msgs, err := st.EventsAfter(ctx, 0, []store.EventType{store.EventMessage}, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one matched-subscription message, got %d", len(msgs))
	}

	found := false
	for _, name := range w.woken {
		if name == "kivo" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected kivo woken for its subscription match, got %v", w.woken)
	}
}

func TestInstallSkipsEventsThatDontMatchThePredicate(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	w := &fakeWaker{}

	if err := st.SaveInstance(ctx, store.Instance{Name: "kivo", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	pred, err := Preset("idle:kivo")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if _, err := Create(ctx, st, "kivo", pred, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	Install(st, w)

	// A message send (not a status=listening transition) should not match
	// the idle preset.
	if _, _, err := messagebus.Send(ctx, st, nil, nil, messagebus.SendParams{From: "kivo", Text: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := st.EventsAfter(ctx, 0, []store.EventType{store.EventMessage}, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	// Only the original "hello" broadcast; no subscription-triggered message.
	if len(msgs) != 1 {
		t.Fatalf("expected only the original message, got %d", len(msgs))
	}
}

func TestOnceSubscriptionIsDeletedAfterFirstMatch(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	w := &fakeWaker{}

	if err := st.SaveInstance(ctx, store.Instance{Name: "kivo", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	pred, err := Preset("idle:kivo")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	sub, err := Create(ctx, st, "kivo", pred, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	Install(st, w)

	if err := messagebus.EmitListening(ctx, st, "kivo"); err != nil {
		t.Fatalf("EmitListening: %v", err)
	}

	all, err := List(ctx, st)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, s := range all {
		if s.ID == sub.ID {
			t.Fatal("expected once subscription to be deleted after its first match")
		}
	}

	// A second listening transition must not re-fire a deleted subscription.
	if err := messagebus.EmitListening(ctx, st, "kivo"); err != nil {
		t.Fatalf("EmitListening: %v", err)
	}
	msgs, err := st.EventsAfter(ctx, 0, []store.EventType{store.EventMessage}, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message from the single match, got %d", len(msgs))
	}
}
