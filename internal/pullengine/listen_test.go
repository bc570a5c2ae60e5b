package pullengine

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

// fakeNotifier never actually blocks: Wait always returns immediately as
// not-woken, so these tests don't depend on wall-clock notify delivery.
type fakeNotifier struct{}

func (fakeNotifier) Wait(timeout time.Duration) bool { return false }
func (fakeNotifier) Close() error                    { return nil }

func TestListenReturnsImmediatelyAvailableMessage(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if err := st.SaveInstance(ctx, store.Instance{Name: "kivo", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if _, _, err := messagebus.Send(ctx, st, nil, nil, messagebus.SendParams{From: "zaro", Text: "hello kivo"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	res, err := Listen(ctx, st, fakeNotifier{}, nil, "kivo", time.Second, nil, 50)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if res.TimedOut {
		t.Fatal("expected a message, not a timeout")
	}
	if !res.CursorAdvanced {
		t.Error("expected cursor to advance")
	}
	if len(res.Messages) != 1 || res.Messages[0].Message.Text != "hello kivo" {
		t.Errorf("unexpected messages: %+v", res.Messages)
	}

	kivo, err := st.GetInstance(ctx, "kivo")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if kivo.Status != "listening" {
		t.Errorf("status = %q, want listening", kivo.Status)
	}
}

func TestListenTimesOutWithNoMessages(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if err := st.SaveInstance(ctx, store.Instance{Name: "kivo", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	start := time.Now()
	res, err := Listen(ctx, st, fakeNotifier{}, nil, "kivo", 50*time.Millisecond, nil, 50)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected timed_out=true")
	}
	if res.CursorAdvanced {
		t.Error("did not expect cursor advance on timeout")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("returned too quickly: %v", elapsed)
	}
}

func TestListenAppliesCallerFilterAndReturnsOnlyMatches(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if err := st.SaveInstance(ctx, store.Instance{Name: "kivo", Tool: "claude"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if _, _, err := messagebus.Send(ctx, st, nil, nil, messagebus.SendParams{From: "zaro", Text: "wrong thread", Thread: "other"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, _, err := messagebus.Send(ctx, st, nil, nil, messagebus.SendParams{From: "zaro", Text: "right thread", Thread: "mine"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	filter := func(m messagebus.Message) bool { return m.Thread == "mine" }
	res, err := Listen(ctx, st, fakeNotifier{}, nil, "kivo", time.Second, filter, 50)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Message.Text != "right thread" {
		t.Fatalf("unexpected filtered messages: %+v", res.Messages)
	}
}

func TestListenErrorsForUnknownInstance(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, err := Listen(ctx, st, fakeNotifier{}, nil, "ghost", 20*time.Millisecond, nil, 50)
	if err == nil {
		t.Error("expected error for unregistered instance")
	}
}
