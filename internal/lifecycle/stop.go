package lifecycle

import (
	"context"
	"fmt"

	"github.com/hcomhq/hcom/internal/store"
)

// Stop tears down name (spec §4.8 `stop(name, by, reason)`): recursively
// stops any subagents first, kills the OS process for a headless instance,
// captures a snapshot, clears every binding and notify endpoint, appends
// life/stopped with the snapshot, then deletes the row. Waking is done
// last, after deletion, using ports captured before the row disappeared —
// spec requires listeners wake up and observe the row is already gone, not
// race it.
func Stop(ctx context.Context, st *store.Store, waker PortWaker, name, by, reason string) error {
	in, err := st.GetInstance(ctx, name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if in == nil {
		return nil
	}

	children, err := subagentsOf(ctx, st, name)
	if err != nil {
		return fmt.Errorf("listing subagents of %s: %w", name, err)
	}
	for _, child := range children {
		if err := Stop(ctx, st, waker, child.Name, by, "parent_stopped"); err != nil {
			return fmt.Errorf("stopping subagent %s: %w", child.Name, err)
		}
	}

	if in.Background && in.PID > 0 {
		if err := killHeadless(in.PID); err != nil {
			return fmt.Errorf("killing headless process for %s: %w", name, err)
		}
	}

	snapshot := *in
	endpoints, err := st.ListNotifyPorts(ctx, name)
	if err != nil {
		return fmt.Errorf("listing notify endpoints for %s: %w", name, err)
	}

	if err := st.DeleteSessionBindingsForInstance(ctx, name); err != nil {
		return fmt.Errorf("clearing session bindings for %s: %w", name, err)
	}
	if err := st.DeleteProcessBindingsForInstance(ctx, name); err != nil {
		return fmt.Errorf("clearing process bindings for %s: %w", name, err)
	}
	if err := st.DeleteNotifyEndpointsForInstance(ctx, name); err != nil {
		return fmt.Errorf("clearing notify endpoints for %s: %w", name, err)
	}

	if _, err := appendLife(ctx, st, name, Life{Action: "stopped", By: by, Reason: reason, Snapshot: &snapshot}); err != nil {
		return err
	}
	if err := st.DeleteInstance(ctx, name); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}

	if waker != nil {
		waker.WakePorts(portNumbers(endpoints))
	}
	return nil
}

func subagentsOf(ctx context.Context, st *store.Store, parent string) ([]store.Instance, error) {
	all, err := st.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.Instance
	for _, in := range all {
		if in.ParentName == parent {
			out = append(out, in)
		}
	}
	return out, nil
}

func portNumbers(eps []store.NotifyEndpoint) []int {
	out := make([]int, len(eps))
	for i, ep := range eps {
		out[i] = ep.Port
	}
	return out
}
