package messagebus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hcomhq/hcom/internal/store"
)

// Delivery is one message event matched as unread for a given instance,
// paired with its decoded payload.
type Delivery struct {
	Event   store.Event
	Message Message
}

// Unread computes `unread(I)` per spec §4.4: events with id > cursor,
// type='message', where scope is broadcast or in.FullName() is in
// delivered_to. Returns at most limit deliveries (MAX_MESSAGES_PER_DELIVERY)
// and whether more remain beyond that — callers MUST leave the remainder
// unread for the next round rather than skip past them.
func Unread(ctx context.Context, st *store.Store, in store.Instance, limit int) ([]Delivery, bool, error) {
	// The fetch is unbounded: the recipient match happens below, so the
	// limit can only be applied to what matched.
	events, err := st.EventsAfter(ctx, in.LastEventID, []store.EventType{store.EventMessage}, 0)
	if err != nil {
		return nil, false, fmt.Errorf("reading events after %d: %w", in.LastEventID, err)
	}

	fullName := in.FullName()
	var out []Delivery
	for _, e := range events {
		var msg Message
		if err := json.Unmarshal(e.Data, &msg); err != nil {
			return nil, false, fmt.Errorf("decoding message event %d: %w", e.ID, err)
		}
		if !matches(msg, fullName) {
			continue
		}
		out = append(out, Delivery{Event: e, Message: msg})
	}

	more := false
	if limit > 0 && len(out) > limit {
		more = true
		out = out[:limit]
	}
	return out, more, nil
}

func matches(msg Message, fullName string) bool {
	if msg.Scope == "broadcast" {
		return true
	}
	for _, d := range msg.DeliveredTo {
		if d == fullName {
			return true
		}
	}
	return false
}

// AdvanceCursor moves in's cursor (keyed by its base store name, not its
// tag-qualified full name) to the largest event id actually included in
// deliveries — never past unread events that weren't delivered this round
// (spec §4.4). Calling with an empty slice is a no-op.
func AdvanceCursor(ctx context.Context, st *store.Store, in store.Instance, deliveries []Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	maxID := deliveries[0].Event.ID
	for _, d := range deliveries[1:] {
		if d.Event.ID > maxID {
			maxID = d.Event.ID
		}
	}
	return st.AdvanceCursor(ctx, in.Name, maxID)
}
