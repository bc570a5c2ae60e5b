package pushengine

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

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

// fakePTY is a scriptable PTYLike for gate tests.
type fakePTY struct {
	waitingApproval bool
	userActive      bool
	ready           bool
	promptEmpty     bool
	outputStable    bool
}

func (p *fakePTY) IsWaitingApproval() bool              { return p.waitingApproval }
func (p *fakePTY) IsUserActive() bool                   { return p.userActive }
func (p *fakePTY) IsReady() bool                        { return p.ready }
func (p *fakePTY) IsPromptEmpty() bool                  { return p.promptEmpty }
func (p *fakePTY) IsOutputStable(_ time.Duration) bool   { return p.outputStable }

// fakeNotifier never blocks the test suite: Wait returns immediately,
// reporting whatever wake state was primed via wake().
type fakeNotifier struct {
	woken int32
}

func (n *fakeNotifier) Wait(timeout time.Duration) bool {
	return atomic.SwapInt32(&n.woken, 0) == 1
}
func (n *fakeNotifier) wake()        { atomic.StoreInt32(&n.woken, 1) }
func (n *fakeNotifier) Close() error { return nil }

func TestGateEvaluateStopsAtFirstFailureInOrder(t *testing.T) {
	gate := DefaultGate()
	pty := &fakePTY{waitingApproval: true, userActive: true}
	result := gate.Evaluate(pty, true)
	if result.Safe || result.Reason != "approval" {
		t.Fatalf("expected approval to block first, got %+v", result)
	}
}

func TestGateEvaluateSafeWhenAllConditionsHold(t *testing.T) {
	gate := DefaultGate()
	pty := &fakePTY{ready: true, outputStable: true}
	result := gate.Evaluate(pty, true)
	if !result.Safe {
		t.Fatalf("expected safe, got %+v", result)
	}
}

func TestClaudeGateRequiresPromptEmptyInsteadOfReadyToken(t *testing.T) {
	gate := ClaudeGate()
	pty := &fakePTY{promptEmpty: false, outputStable: true}
	result := gate.Evaluate(pty, true)
	if result.Safe || result.Reason != "prompt_has_text" {
		t.Fatalf("expected prompt_has_text block, got %+v", result)
	}
}

func TestTwoPhaseRetryCapsAtWarmThenCold(t *testing.T) {
	r := DefaultRetryPolicy()
	if d := r.Delay(1, 0); d != 250*time.Millisecond {
		t.Errorf("attempt 1 = %v, want 250ms", d)
	}
	if d := r.Delay(4, 0); d != r.WarmMaximum {
		t.Errorf("attempt 4 warm = %v, want capped at %v", d, r.WarmMaximum)
	}
	if d := r.Delay(6, r.WarmSeconds); d != r.ColdMaximum {
		t.Errorf("attempt 6 cold = %v, want capped at %v", d, r.ColdMaximum)
	}
}

func TestEngineDeliversWhenPendingAndGateSafe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := openTestStore(t)
	if err := st.SaveInstance(ctx, store.Instance{Name: "kivo", Tool: "claude", Status: "listening"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	pty := &fakePTY{ready: true, outputStable: true}
	notifier := &fakeNotifier{}

	var delivered int32
	var cursor int64

	cfg := Config{
		InstanceName: "kivo",
		Store:        st,
		Notifier:     notifier,
		PTY:          pty,
		Gate:         DefaultGate(),
		HasPending: func(ctx context.Context) (bool, error) {
			return atomic.LoadInt32(&delivered) == 0, nil
		},
		TryDeliver: func(ctx context.Context) (bool, error) {
			atomic.StoreInt32(&delivered, 1)
			atomic.AddInt64(&cursor, 1)
			return true, nil
		},
		GetCursor: func(ctx context.Context) (int64, error) {
			return atomic.LoadInt64(&cursor), nil
		},
		IdleWait:      50 * time.Millisecond,
		VerifyTimeout: 50 * time.Millisecond,
	}
	e := New(cfg)
	e.state = statePending
	e.pendingSince = time.Now()

	go func() {
		time.Sleep(500 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Give it a few iterations to reach idle after confirming delivery.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("engine never reached idle after delivery")
		default:
		}
		if e.state == stateIdle && atomic.LoadInt32(&delivered) == 1 {
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineBacksOffWhenGateBlocked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := openTestStore(t)
	if err := st.SaveInstance(ctx, store.Instance{Name: "zaro", Tool: "codex", Status: "listening"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	pty := &fakePTY{userActive: true} // blocks on user_active forever
	notifier := &fakeNotifier{}

	var deliverCalls int32
	cfg := Config{
		InstanceName: "zaro",
		Store:        st,
		Notifier:     notifier,
		PTY:          pty,
		Gate:         DefaultGate(),
		HasPending:   func(ctx context.Context) (bool, error) { return true, nil },
		TryDeliver: func(ctx context.Context) (bool, error) {
			atomic.AddInt32(&deliverCalls, 1)
			return true, nil
		},
		IdleWait: 10 * time.Millisecond,
	}
	e := New(cfg)
	e.state = statePending
	e.pendingSince = time.Now()

	runCtx, runCancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer runCancel()
	_ = e.Run(runCtx)

	if atomic.LoadInt32(&deliverCalls) != 0 {
		t.Errorf("expected no delivery while gate blocked, got %d calls", deliverCalls)
	}
}

func TestEngineVerifyTimeoutRetriesThenGivesUpAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st := openTestStore(t)
	if err := st.SaveInstance(ctx, store.Instance{Name: "nori", Tool: "gemini", Status: "listening"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	pty := &fakePTY{ready: true, outputStable: true}
	notifier := &fakeNotifier{}

	var deliverCalls int32
	cfg := Config{
		InstanceName: "nori",
		Store:        st,
		Notifier:     notifier,
		PTY:          pty,
		Gate:         DefaultGate(),
		HasPending:   func(ctx context.Context) (bool, error) { return true, nil },
		TryDeliver: func(ctx context.Context) (bool, error) {
			atomic.AddInt32(&deliverCalls, 1)
			return true, nil // injection "succeeds" but cursor never advances
		},
		GetCursor: func(ctx context.Context) (int64, error) {
			return 0, nil // never advances -> perpetual verify timeout
		},
		IdleWait:         10 * time.Millisecond,
		VerifyTimeout:    10 * time.Millisecond,
		MaxVerifyRetries: 2,
	}
	e := New(cfg)
	e.state = statePending
	e.pendingSince = time.Now()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	<-done

	// initial delivery + up to MaxVerifyRetries retries before giving up
	if atomic.LoadInt32(&deliverCalls) < 2 {
		t.Errorf("expected multiple delivery attempts, got %d", deliverCalls)
	}
}
