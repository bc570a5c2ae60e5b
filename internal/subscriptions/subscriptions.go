// Package subscriptions implements hcom's durable event subscriptions
// (spec §4.9): a caller registers a SQL-ish predicate over events_v, and a
// matcher run on every event append notifies the caller when it fires.
package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hcomhq/hcom/internal/store"
)

// kvPrefix is the KV key namespace subscriptions live under (spec §4.9:
// "a KV row events_sub:<id>").
const kvPrefix = "events_sub:"

// Subscription is the persisted shape of one subscription row.
type Subscription struct {
	ID              string `json:"id"`
	Caller          string `json:"caller"`
	Predicate       string `json:"predicate"`
	LastSeenEventID int64  `json:"last_seen_event_id"`
	Once            bool   `json:"once"`
}

func key(id string) string { return kvPrefix + id }

// Create persists a new subscription for caller against predicate (a raw
// SQL boolean expression evaluable against events_v's columns). The cursor
// is seeded to the store's current max event id: like a freshly created
// instance, a subscription only ever sees events appended after it exists.
func Create(ctx context.Context, st *store.Store, caller, predicate string, once bool) (Subscription, error) {
	lastEventID, err := st.GetLastEventID(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("reading last event id: %w", err)
	}
	sub := Subscription{
		ID:              uuid.NewString()[:8],
		Caller:          caller,
		Predicate:       predicate,
		LastSeenEventID: lastEventID,
		Once:            once,
	}
	if err := save(ctx, st, sub); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// Delete removes a subscription by id. Deleting an id that doesn't exist
// is not an error (spec's unsub is idempotent, mirroring stop/kill).
func Delete(ctx context.Context, st *store.Store, id string) error {
	if err := st.KVDelete(ctx, key(id)); err != nil {
		return fmt.Errorf("deleting subscription %s: %w", id, err)
	}
	return nil
}

// List returns every live subscription, in no particular order.
func List(ctx context.Context, st *store.Store) ([]Subscription, error) {
	keys, err := st.KVKeysWithPrefix(ctx, kvPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing subscription keys: %w", err)
	}
	out := make([]Subscription, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := st.KVGet(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("reading subscription %s: %w", k, err)
		}
		if !ok {
			continue
		}
		var sub Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return nil, fmt.Errorf("decoding subscription %s: %w", k, err)
		}
		out = append(out, sub)
	}
	return out, nil
}

func save(ctx context.Context, st *store.Store, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encoding subscription %s: %w", sub.ID, err)
	}
	if err := st.KVSet(ctx, key(sub.ID), string(raw)); err != nil {
		return fmt.Errorf("saving subscription %s: %w", sub.ID, err)
	}
	return nil
}
