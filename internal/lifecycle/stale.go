package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hcomhq/hcom/internal/config"
	"github.com/hcomhq/hcom/internal/store"
)

// CleanupOneStale opportunistically removes a single stale or long-inactive
// instance, per spec §4.8's "any call to list/iterate instances deletes one
// stale instance per call" — one at a time so a list call never blocks on a
// sweep of the whole store. The `list` command calls this once per
// invocation and uses only the error.
func CleanupOneStale(ctx context.Context, st *store.Store, cfg *config.Config, waker PortWaker) error {
	all, err := st.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("listing instances for stale sweep: %w", err)
	}
	now := time.Now().UTC()
	for _, in := range all {
		if reason, stale := staleReason(in, cfg, now); stale {
			if err := Stop(ctx, st, waker, in.Name, "stale-cleanup", reason); err != nil {
				return fmt.Errorf("stopping stale instance %s: %w", in.Name, err)
			}
			return nil
		}
	}
	return nil
}

// staleReason applies the three staleness thresholds in spec §4.7/§4.8,
// in order of how specific they are: an exited instance's own status
// context, a stuck listening heartbeat, then the broad inactivity catch-all.
func staleReason(in store.Instance, cfg *config.Config, now time.Time) (string, bool) {
	if in.Status == "inactive" && strings.HasPrefix(in.StatusContext, "exit") {
		if age(in.StatusTime, now) > cfg.StaleExit {
			return "stale:exit", true
		}
	}
	if in.Status == "listening" {
		if age(in.LastStop, now) > cfg.StaleListeningHeartbeat {
			return "stale:listening", true
		}
	}
	if age(lastActivity(in), now) > cfg.StaleOther {
		return "stale:inactive", true
	}
	return "", false
}

// age returns how long ago t was, or the zero duration for an unset
// timestamp (treated as "just happened", never stale on its own).
func age(t time.Time, now time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return now.Sub(t)
}

// lastActivity is the most recent of an instance's two liveness stamps,
// falling back to creation time for a row that never transitioned status.
func lastActivity(in store.Instance) time.Time {
	latest := in.CreatedAt
	if in.StatusTime.After(latest) {
		latest = in.StatusTime
	}
	if in.LastStop.After(latest) {
		latest = in.LastStop
	}
	return latest
}
