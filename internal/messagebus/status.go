package messagebus

import (
	"context"
	"fmt"
	"time"

	"github.com/hcomhq/hcom/internal/store"
)

// EmitListening records the transitive "returned to idle" status event
// (spec §4.4): status=listening. Called by the Notification hook handler
// (protocol's handleNotify) when an instance returns to idle.
func EmitListening(ctx context.Context, st *store.Store, name string) error {
	return EmitStatus(ctx, st, name, Status{Status: "listening"})
}

// EmitStatus appends a status event for name and projects it onto the
// instance row, the way common.py's update_tool_status/finalize_session
// keep `hcom list`'s live view in sync with the append-only log
// (active:tool:<name>, inactive:exit:<reason>, listening, ...). The row is
// a read cache over the event log, not a second source of truth: nothing
// here is safe to trust if the event append below fails.
func EmitStatus(ctx context.Context, st *store.Store, name string, status Status) error {
	if err := ValidateSenderKind(SenderSystem, store.EventStatus); err != nil {
		return err
	}
	if _, err := st.AppendEvent(ctx, store.EventStatus, name, status, time.Time{}); err != nil {
		return fmt.Errorf("emitting %s status for %s: %w", status.Status, name, err)
	}
	now := time.Now().UTC()
	if err := st.UpdateInstance(ctx, name, store.InstanceUpdate{
		Status:        &status.Status,
		StatusTime:    &now,
		StatusContext: &status.Context,
		StatusDetail:  &status.Detail,
	}); err != nil {
		return fmt.Errorf("projecting %s status for %s: %w", status.Status, name, err)
	}
	return nil
}
