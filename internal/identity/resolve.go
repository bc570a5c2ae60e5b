package identity

import (
	"context"
	"fmt"
	"regexp"

	"github.com/hcomhq/hcom/internal/lifecycle"
	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/store"
)

// startMarker matches the "[hcom:<name>]" token `start` writes into a
// freshly launched instance's first prompt, so a hook firing before any
// session_id exists can still find its pending instance (spec §4.2 step 3).
var startMarker = regexp.MustCompile(`\[hcom:([a-zA-Z0-9_-]+)\]`)

// Hint carries whatever identity a hook invocation was able to observe.
// Any field may be empty.
type Hint struct {
	ProcessID      string
	SessionID      string
	TranscriptHead string // enough of the transcript to search for the start marker
}

// Resolve implements the spec §4.2 resolution chain:
//  1. process_id bound -> its instance
//  2. else session_id bound -> its instance
//  3. else transcript contains "[hcom:<name>]" and that name is still
//     pending (row exists, session_id null) -> bind the session, return it
//  4. else -> "", nil (no identity; caller decides)
func Resolve(ctx context.Context, st *store.Store, h Hint) (string, error) {
	if h.ProcessID != "" {
		pb, err := st.GetProcessBinding(ctx, h.ProcessID)
		if err != nil {
			return "", fmt.Errorf("resolving process binding: %w", err)
		}
		if pb != nil && pb.Name != "" {
			return pb.Name, nil
		}
	}

	if h.SessionID != "" {
		name, err := st.GetSessionBinding(ctx, h.SessionID)
		if err != nil {
			return "", fmt.Errorf("resolving session binding: %w", err)
		}
		if name != "" {
			return name, nil
		}
	}

	if h.TranscriptHead != "" {
		if m := startMarker.FindStringSubmatch(h.TranscriptHead); m != nil {
			name := m[1]
			in, err := st.GetInstance(ctx, name)
			if err != nil {
				return "", fmt.Errorf("checking pending instance %s: %w", name, err)
			}
			if in != nil && in.SessionID == "" {
				if h.SessionID != "" {
					if err := st.SetSessionBinding(ctx, h.SessionID, name); err != nil {
						return "", fmt.Errorf("binding pending instance %s: %w", name, err)
					}
					sessionID := h.SessionID
					if err := st.UpdateInstance(ctx, name, store.InstanceUpdate{SessionID: &sessionID}); err != nil {
						return "", fmt.Errorf("updating pending instance %s: %w", name, err)
					}
				}
				return name, nil
			}
		}
	}

	return "", nil
}

// BindSessionToProcess implements `bind_session_to_process` (spec §4.2): if
// sessionID already maps to a canonical instance, redirect processID's
// binding there (migrating notify endpoints) instead of creating a second
// identity for the same session. If processID was already bound to a
// different row, that row is reconciled away so hcom never tracks two live
// rows for one process: a true placeholder (no session_id, context="new")
// is merged into the canonical instance by deleting it outright, while a
// real abandoned instance is marked exit:session_switch and torn down
// through the normal Stop path.
func BindSessionToProcess(ctx context.Context, st *store.Store, sessionID, processID string) error {
	name, err := st.GetSessionBinding(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("looking up session binding: %w", err)
	}
	if name == "" {
		return nil
	}

	prevBinding, err := st.GetProcessBinding(ctx, processID)
	if err != nil {
		return fmt.Errorf("looking up prior process binding: %w", err)
	}

	if err := st.SetProcessBinding(ctx, processID, sessionID, name); err != nil {
		return fmt.Errorf("redirecting process binding to %s: %w", name, err)
	}

	if prevBinding == nil || prevBinding.Name == "" || prevBinding.Name == name {
		return nil
	}

	endpoints, err := st.ListNotifyPorts(ctx, prevBinding.Name)
	if err != nil {
		return fmt.Errorf("listing notify endpoints for migration: %w", err)
	}
	for _, ep := range endpoints {
		if err := st.UpsertNotifyEndpoint(ctx, name, ep.Kind, ep.Port); err != nil {
			return fmt.Errorf("migrating notify endpoint: %w", err)
		}
	}

	prev, err := st.GetInstance(ctx, prevBinding.Name)
	if err != nil {
		return fmt.Errorf("loading prior instance %s: %w", prevBinding.Name, err)
	}
	if prev == nil {
		return nil
	}

	if prev.SessionID == "" && prev.StatusContext == "new" {
		if err := st.DeleteInstance(ctx, prev.Name); err != nil {
			return fmt.Errorf("merging placeholder %s into %s: %w", prev.Name, name, err)
		}
		return nil
	}

	if err := messagebus.EmitStatus(ctx, st, prev.Name, messagebus.Status{
		Status:  "inactive",
		Context: "exit:session_switch",
	}); err != nil {
		return fmt.Errorf("marking %s exit:session_switch: %w", prev.Name, err)
	}
	if err := lifecycle.Stop(ctx, st, nil, prev.Name, name, "exit:session_switch"); err != nil {
		return fmt.Errorf("stopping abandoned instance %s: %w", prev.Name, err)
	}
	return nil
}
