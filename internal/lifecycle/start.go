package lifecycle

import (
	"context"
	"fmt"

	"github.com/hcomhq/hcom/internal/store"
)

// StartParams is the input to Start/StartAs (spec §4.8 `start(current_context)`).
type StartParams struct {
	CreateParams
	By string // who triggered the start, for the life/started event
}

// Start resolves identity, creating the row if none exists, sets
// status=active/context=start, and emits life/started.
func Start(ctx context.Context, st *store.Store, waker Waker, p StartParams) (*store.Instance, error) {
	in, err := CreateInstance(ctx, st, p.CreateParams)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", p.Name, err)
	}
	return activate(ctx, st, waker, *in, p.By)
}

// StartAs implements `start --as <name>` (spec §4.8): reclaims an existing
// name rather than allocating a fresh one. currentName is the instance
// (typically a bare placeholder) already bound to the calling process, if
// any; its bindings and row are torn down and replaced by a freshly created
// row at asName, which inherits whatever last_event_id asName had before
// (so a reconnecting instance resumes its own history) and whatever notify
// endpoints currentName had registered (so a listener already waiting on
// currentName's port keeps working under the new name).
func StartAs(ctx context.Context, st *store.Store, waker Waker, currentName, asName string, p StartParams) (*store.Instance, error) {
	p.Name = asName

	var migrated []store.NotifyEndpoint
	if currentName != "" && currentName != asName {
		eps, err := st.ListNotifyPorts(ctx, currentName)
		if err != nil {
			return nil, fmt.Errorf("listing notify endpoints for %s: %w", currentName, err)
		}
		migrated = eps
		if err := teardownInstance(ctx, st, currentName); err != nil {
			return nil, fmt.Errorf("clearing placeholder %s: %w", currentName, err)
		}
	}

	prior, err := st.GetInstance(ctx, asName)
	if err != nil {
		return nil, fmt.Errorf("checking existing %s: %w", asName, err)
	}
	var preservedCursor int64
	if prior != nil {
		preservedCursor = prior.LastEventID
		if err := teardownInstance(ctx, st, asName); err != nil {
			return nil, fmt.Errorf("clearing existing %s: %w", asName, err)
		}
	}

	in, err := CreateInstance(ctx, st, p.CreateParams)
	if err != nil {
		return nil, fmt.Errorf("reclaiming %s: %w", asName, err)
	}

	if preservedCursor > 0 {
		if err := st.UpdateInstance(ctx, asName, store.InstanceUpdate{LastEventID: &preservedCursor}); err != nil {
			return nil, fmt.Errorf("restoring cursor for %s: %w", asName, err)
		}
	}
	for _, ep := range migrated {
		if err := st.UpsertNotifyEndpoint(ctx, asName, ep.Kind, ep.Port); err != nil {
			return nil, fmt.Errorf("migrating notify endpoint to %s: %w", asName, err)
		}
	}

	in, err = st.GetInstance(ctx, asName)
	if err != nil {
		return nil, fmt.Errorf("reading reclaimed %s: %w", asName, err)
	}
	return activate(ctx, st, waker, *in, p.By)
}

// teardownInstance clears every row that can reference name, notify
// endpoints included; StartAs lists the endpoints it migrates before
// calling this.
func teardownInstance(ctx context.Context, st *store.Store, name string) error {
	if err := st.DeleteSessionBindingsForInstance(ctx, name); err != nil {
		return err
	}
	if err := st.DeleteProcessBindingsForInstance(ctx, name); err != nil {
		return err
	}
	if err := st.DeleteNotifyEndpointsForInstance(ctx, name); err != nil {
		return err
	}
	return st.DeleteInstance(ctx, name)
}

// activate applies the common start tail: flip status to active/start,
// emit life/started, and run batch-readiness tracking if this was the
// instance's first transition out of a fresh placeholder's "new" context.
func activate(ctx context.Context, st *store.Store, waker Waker, in store.Instance, by string) (*store.Instance, error) {
	wasNew := in.StatusContext == "new"

	status, statusContext := "active", "start"
	if err := st.UpdateInstance(ctx, in.Name, store.InstanceUpdate{
		Status:        &status,
		StatusContext: &statusContext,
	}); err != nil {
		return nil, fmt.Errorf("activating %s: %w", in.Name, err)
	}
	if by == "" {
		by = in.Name
	}
	if _, err := appendLife(ctx, st, in.Name, Life{Action: "started", By: by}); err != nil {
		return nil, err
	}

	updated, err := st.GetInstance(ctx, in.Name)
	if err != nil {
		return nil, fmt.Errorf("reading started %s: %w", in.Name, err)
	}
	if wasNew {
		if err := TrackReady(ctx, st, waker, *updated); err != nil {
			return nil, fmt.Errorf("tracking batch readiness for %s: %w", in.Name, err)
		}
	}
	return updated, nil
}
