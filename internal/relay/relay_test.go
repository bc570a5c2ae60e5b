package relay

import (
	"context"
	"testing"
	"time"

	"github.com/hcomhq/hcom/internal/messagebus"
)

func TestNoopPushMessageIsAlwaysNil(t *testing.T) {
	r := New()
	if err := r.PushMessage(context.Background(), messagebus.Message{From: "kivo", Text: "hi"}); err != nil {
		t.Errorf("expected no-op PushMessage to never error, got %v", err)
	}
}

func TestNoopWaitBlocksForTheFullTimeoutAndReportsNothing(t *testing.T) {
	r := New()
	start := time.Now()
	if got := r.Wait(context.Background(), 20*time.Millisecond); got {
		t.Error("expected no-op Wait to report no relay activity")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected Wait to block for the timeout, returned after %v", elapsed)
	}
}

func TestNoopWaitReturnsEarlyWhenContextCancelled(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	r.Wait(ctx, time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected Wait to return promptly on context cancellation, took %v", elapsed)
	}
}
