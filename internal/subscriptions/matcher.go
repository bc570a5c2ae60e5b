package subscriptions

import (
	"context"
	"fmt"

	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/store"
)

// Waker wakes a caller after a matched subscription enqueues a message for
// it; satisfied by *notifybus.Bus.
type Waker interface {
	WakeInstances(ctx context.Context, names []string) error
}

// Install wires the subscription matcher into st as its append hook, so
// MatchOnAppend runs automatically after every event the store durably
// records, regardless of which package appended it.
func Install(st *store.Store, waker Waker) {
	st.SetAppendHook(func(ctx context.Context, eventID int64) error {
		return MatchOnAppend(ctx, st, waker, eventID)
	})
}

// MatchOnAppend runs every live subscription's predicate against the
// just-appended event (spec §4.9: "a subscription matcher runs on every
// event append"). A subscription whose predicate matches has a system
// message enqueued for its caller; a `once` subscription is then deleted.
//
// Callers invoke this once per AppendEvent, passing the id just assigned;
// it does not itself append the triggering event.
func MatchOnAppend(ctx context.Context, st *store.Store, waker Waker, eventID int64) error {
	subs, err := List(ctx, st)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	for _, sub := range subs {
		if eventID <= sub.LastSeenEventID {
			continue
		}
		matched, err := predicateMatches(ctx, st, sub.Predicate, eventID)
		if err != nil {
			// A broken predicate (bad SQL) shouldn't wedge every other
			// subscription or the append path it rides on; skip it.
			continue
		}
		sub.LastSeenEventID = eventID
		if !matched {
			if err := save(ctx, st, sub); err != nil {
				return err
			}
			continue
		}

		if err := notify(ctx, st, waker, sub, eventID); err != nil {
			return fmt.Errorf("notifying subscription %s: %w", sub.ID, err)
		}
		if sub.Once {
			if err := Delete(ctx, st, sub.ID); err != nil {
				return err
			}
			continue
		}
		if err := save(ctx, st, sub); err != nil {
			return err
		}
	}
	return nil
}

func predicateMatches(ctx context.Context, st *store.Store, predicate string, eventID int64) (bool, error) {
	rows, err := st.RunSQL(ctx,
		`SELECT 1 FROM events_v WHERE id = ? AND (`+predicate+`) LIMIT 1`, eventID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func notify(ctx context.Context, st *store.Store, waker Waker, sub Subscription, eventID int64) error {
	text := fmt.Sprintf("[hcom-sub:%s] matched event %d", sub.ID, eventID)
	_, _, err := messagebus.Send(ctx, st, waker, nil, messagebus.SendParams{
		From:       "hcom-sub",
		Text:       text,
		Targets:    []string{"@" + sub.Caller},
		SenderKind: messagebus.SenderSystem,
	})
	return err
}
