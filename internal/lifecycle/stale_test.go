package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/hcomhq/hcom/internal/config"
	"github.com/hcomhq/hcom/internal/store"
)

func TestCleanupOneStaleRemovesExitedInstancePastThreshold(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	cfg := config.Default()
	w := &fakeWaker{}

	if err := st.SaveInstance(ctx, store.Instance{
		Name: "kivo", Tool: "claude", Status: "inactive", StatusContext: "exit:killed",
		StatusTime: time.Now().UTC().Add(-2 * cfg.StaleExit), CreatedAt: time.Now().UTC().Add(-2 * cfg.StaleExit),
	}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	if err := CleanupOneStale(ctx, st, cfg, w); err != nil {
		t.Fatalf("CleanupOneStale: %v", err)
	}

	if in, _ := st.GetInstance(ctx, "kivo"); in != nil {
		t.Error("expected exited instance past threshold to be cleaned up")
	}
}

func TestCleanupOneStaleLeavesFreshInstancesAlone(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	cfg := config.Default()
	w := &fakeWaker{}

	if _, err := Start(ctx, st, w, StartParams{CreateParams: CreateParams{Name: "kivo", Tool: "claude"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := CleanupOneStale(ctx, st, cfg, w); err != nil {
		t.Fatalf("CleanupOneStale: %v", err)
	}

	if in, _ := st.GetInstance(ctx, "kivo"); in == nil {
		t.Error("expected freshly started instance to survive a stale sweep")
	}
}

func TestCleanupOneStaleOnlyRemovesOnePerCall(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	cfg := config.Default()
	w := &fakeWaker{}

	longAgo := time.Now().UTC().Add(-2 * cfg.StaleOther)
	for _, name := range []string{"kivo", "zaro"} {
		if err := st.SaveInstance(ctx, store.Instance{
			Name: name, Tool: "claude", Status: "active", CreatedAt: longAgo, StatusTime: longAgo,
		}); err != nil {
			t.Fatalf("SaveInstance %s: %v", name, err)
		}
	}

	if err := CleanupOneStale(ctx, st, cfg, w); err != nil {
		t.Fatalf("CleanupOneStale: %v", err)
	}

	all, err := st.ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly one instance removed per call, %d remain", len(all))
	}
}
