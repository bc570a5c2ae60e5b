// Package lifecycle is hcom's create/start/stop/reset surface plus the
// batch-readiness and stale-cleanup housekeeping that rides along with it
// (spec §4.8). It is grounded on the teacher's session-lifecycle and
// pidtrack idioms, generalized from tmux-session bookkeeping to hcom's
// store-row bookkeeping.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/store"
)

// Life is the JSON payload of a `life` event (spec §3: action/by/reason,
// plus the optional snapshot/batch_id fields §4.8 adds on top).
type Life struct {
	Action   string         `json:"action"`
	By       string         `json:"by,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Snapshot *store.Instance `json:"snapshot,omitempty"`
	BatchID  string         `json:"batch_id,omitempty"`
	Launched int            `json:"launched,omitempty"`
}

// appendLife is the only path that writes life events: only the instance
// itself (or LifecycleOps acting on its behalf, SenderInstance per spec §9)
// may do so, which this package is.
func appendLife(ctx context.Context, st *store.Store, instance string, life Life) (int64, error) {
	if err := messagebus.ValidateSenderKind(messagebus.SenderInstance, store.EventLife); err != nil {
		return 0, err
	}
	id, err := st.AppendEvent(ctx, store.EventLife, instance, life, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("appending life/%s event for %s: %w", life.Action, instance, err)
	}
	return id, nil
}

// Waker wakes instances over NotifyBus; satisfied by *notifybus.Bus.
type Waker interface {
	WakeInstances(ctx context.Context, names []string) error
}

// PortWaker wakes already-known ports directly, bypassing a by-name store
// lookup. Stop needs this: spec §4.8 requires waking listeners *after* the
// row is deleted, by which point a by-name lookup finds nothing.
type PortWaker interface {
	WakePorts(ports []int)
}
