package lifecycle

import (
	"context"
	"fmt"

	"github.com/hcomhq/hcom/internal/store"
)

// CreateParams is the input to CreateInstance (spec §4.8
// `create_instance(name, tool, session_id?, parent?, ...)`).
type CreateParams struct {
	Name               string
	Tool               string
	SessionID          string
	ParentName         string
	ParentSessionID    string
	AgentID            string
	Directory          string
	Tag                string
	Background         bool
	LaunchContext      string
	OriginDeviceID     string
	BatchID            string
	BatchLaunchEventID int64 // 0 means "not part of a batch launch"
}

// CreateInstance is idempotent: a row that already exists as a placeholder
// (created by a prior hook before full identity was known) is filled in
// rather than rejected; a wholly fresh name gets a new row seeded to "skip
// history" — last_event_id starts at the current max so the instance never
// sees events that predate it, unless a still-valid batch launch event id
// was supplied, in which case that earlier cursor is honored so a batch of
// instances launched together share a consistent starting point.
func CreateInstance(ctx context.Context, st *store.Store, p CreateParams) (*store.Instance, error) {
	existing, err := st.GetInstance(ctx, p.Name)
	if err != nil {
		return nil, fmt.Errorf("checking existing instance %s: %w", p.Name, err)
	}
	if existing != nil {
		return fillPlaceholder(ctx, st, *existing, p)
	}

	lastEventID, err := st.GetLastEventID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading last event id: %w", err)
	}
	if p.BatchLaunchEventID > 0 && p.BatchLaunchEventID <= lastEventID {
		lastEventID = p.BatchLaunchEventID
	}

	in := store.Instance{
		Name:            p.Name,
		Tag:             p.Tag,
		SessionID:       p.SessionID,
		ParentSessionID: p.ParentSessionID,
		ParentName:      p.ParentName,
		AgentID:         p.AgentID,
		Tool:            p.Tool,
		Directory:       p.Directory,
		Background:      p.Background,
		Status:          "inactive",
		StatusContext:   "new",
		LastEventID:     lastEventID,
		LaunchContext:   p.LaunchContext,
		OriginDeviceID:  p.OriginDeviceID,
		BatchID:         p.BatchID,
	}
	if err := st.SaveInstance(ctx, in); err != nil {
		return nil, fmt.Errorf("creating instance %s: %w", p.Name, err)
	}
	return st.GetInstance(ctx, p.Name)
}

// fillPlaceholder fills in fields the provided params supply that the
// existing row still has empty, without clobbering anything a prior call
// already set.
func fillPlaceholder(ctx context.Context, st *store.Store, existing store.Instance, p CreateParams) (*store.Instance, error) {
	u := store.InstanceUpdate{}
	dirty := false
	fill := func(cur string, next string, set func(*string)) {
		if cur == "" && next != "" {
			set(&next)
			dirty = true
		}
	}
	fill(existing.Tag, p.Tag, func(v *string) { u.Tag = v })
	fill(existing.SessionID, p.SessionID, func(v *string) { u.SessionID = v })
	fill(existing.ParentSessionID, p.ParentSessionID, func(v *string) { u.ParentSessionID = v })
	fill(existing.ParentName, p.ParentName, func(v *string) { u.ParentName = v })
	fill(existing.AgentID, p.AgentID, func(v *string) { u.AgentID = v })
	fill(existing.Tool, p.Tool, func(v *string) { u.Tool = v })
	fill(existing.BatchID, p.BatchID, func(v *string) { u.BatchID = v })
	if dirty {
		if err := st.UpdateInstance(ctx, existing.Name, u); err != nil {
			return nil, fmt.Errorf("filling placeholder %s: %w", existing.Name, err)
		}
	}
	return st.GetInstance(ctx, existing.Name)
}
