// Package pullengine implements the blocking listen/drain contract used by
// `hcom listen`, the Stop hook in headless/vanilla Claude, and SubagentStop
// for Task subagents (spec §4.7).
package pullengine

import (
	"context"
	"fmt"
	"time"

	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/notifybus"
	"github.com/hcomhq/hcom/internal/store"
)

// Filter is a caller-supplied predicate narrowing which unread messages a
// particular Listen call drains (e.g. a SubagentStop call restricting to
// its own thread). The base scope/delivered_to match is already applied by
// messagebus.Unread; Filter narrows further.
type Filter func(messagebus.Message) bool

// MatchAll is the default filter: every message messagebus.Unread already
// considers addressed to this instance is drained.
func MatchAll(messagebus.Message) bool { return true }

// RelayWaiter lets Listen fold a short relay poll into its wait cycle when
// the relay is configured (spec §6 external collaborator).
type RelayWaiter interface {
	Wait(ctx context.Context, timeout time.Duration) bool
}

// notifyWaiter is the minimal notify-wait surface Listen needs; satisfied
// directly by notifybus.AcceptNotifier.
type notifyWaiter interface {
	Wait(timeout time.Duration) bool
	Close() error
}

// Result is the outcome of a Listen call (spec §4.7's
// `{messages[], timed_out, cursor_advanced?}`).
type Result struct {
	Messages       []messagebus.Delivery
	TimedOut       bool
	CursorAdvanced bool
}

// pollInterval bounds how long a single notifier/relay wait step blocks,
// so Listen can re-check the overall deadline and re-poll for messages
// that arrived without a wake (defense in depth, not the primary path).
const pollInterval = 2 * time.Second

// Listen blocks until a matching message is available, timeout elapses, or
// ctx is cancelled. Callers own registering/unregistering notifier with
// NotifyBus around this call (see ListenWithBus for the common case).
func Listen(
	ctx context.Context,
	st *store.Store,
	notifier notifyWaiter,
	relay RelayWaiter,
	instance string,
	timeout time.Duration,
	filter Filter,
	maxPerDelivery int,
) (Result, error) {
	if filter == nil {
		filter = MatchAll
	}

	if err := markListening(ctx, st, instance); err != nil {
		return Result{}, fmt.Errorf("marking %s listening: %w", instance, err)
	}

	deadline := time.Now().Add(timeout)

	// Immediate check covers the append-then-wake race (spec §4.7's "look
	// back up to 10s for filter matches already present"): since matching
	// is cursor-based (id > last_event_id) rather than wall-clock based, a
	// plain immediate check already finds anything that landed before
	// this call registered its notify endpoint, regardless of how long
	// ago it landed.
	if res, err := tryDrain(ctx, st, instance, filter, maxPerDelivery); err != nil {
		return Result{}, err
	} else if len(res.Messages) > 0 {
		return res, nil
	}

	for {
		if ctx.Err() != nil {
			return Result{TimedOut: true}, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result{TimedOut: true}, nil
		}

		if err := heartbeat(ctx, st, instance); err != nil {
			return Result{}, err
		}

		step := pollInterval
		if remaining < step {
			step = remaining
		}

		if relay != nil {
			relayStep := step / 2
			if relayStep <= 0 {
				relayStep = step
			}
			relay.Wait(ctx, relayStep)
			step -= relayStep
		}
		if step > 0 {
			// Either a wake or the interval elapsing triggers the re-check
			// below; Listen doesn't need to know which.
			notifier.Wait(step)
		}

		res, err := tryDrain(ctx, st, instance, filter, maxPerDelivery)
		if err != nil {
			return Result{}, err
		}
		if len(res.Messages) > 0 {
			return res, nil
		}
	}
}

// tryDrain fetches unread messages, advances the cursor to the last one this
// filter matched, and returns the matches. Excluded messages after that id
// stay unread; excluded messages before it are passed by the cursor and are
// not returned by a later call.
func tryDrain(ctx context.Context, st *store.Store, instance string, filter Filter, maxPerDelivery int) (Result, error) {
	in, err := st.GetInstance(ctx, instance)
	if err != nil {
		return Result{}, fmt.Errorf("reading instance %s: %w", instance, err)
	}
	if in == nil {
		return Result{}, fmt.Errorf("instance %s is not a participant", instance)
	}

	deliveries, _, err := messagebus.Unread(ctx, st, *in, maxPerDelivery)
	if err != nil {
		return Result{}, fmt.Errorf("reading unread for %s: %w", instance, err)
	}

	var matched []messagebus.Delivery
	for _, d := range deliveries {
		if filter(d.Message) {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return Result{}, nil
	}

	if err := messagebus.AdvanceCursor(ctx, st, *in, matched); err != nil {
		return Result{}, fmt.Errorf("advancing cursor for %s: %w", instance, err)
	}

	return Result{Messages: matched, CursorAdvanced: true}, nil
}

// markListening sets status=listening and stamps the heartbeat on entry.
func markListening(ctx context.Context, st *store.Store, instance string) error {
	status := "listening"
	now := time.Now().UTC()
	return st.UpdateInstance(ctx, instance, store.InstanceUpdate{
		Status:   &status,
		LastStop: &now,
	})
}

// heartbeat updates the liveness stamp every loop iteration. "last_stop" is
// a misnomer inherited from the original implementation; it is the
// liveness timestamp LifecycleOps' stale-cleanup sweep reads, not
// specifically a stop-hook timestamp.
func heartbeat(ctx context.Context, st *store.Store, instance string) error {
	now := time.Now().UTC()
	return st.UpdateInstance(ctx, instance, store.InstanceUpdate{LastStop: &now})
}

// ListenWithBus is a convenience wrapper that registers a fresh notify
// endpoint for the duration of the call, as spec §4.7 step 1 requires,
// then delegates to Listen.
func ListenWithBus(
	ctx context.Context,
	st *store.Store,
	bus *notifybus.Bus,
	relay RelayWaiter,
	instance string,
	kind notifybus.Kind,
	timeout time.Duration,
	filter Filter,
	maxPerDelivery int,
) (Result, error) {
	ln, port, err := bus.Listen(ctx, instance, kind)
	if err != nil {
		return Result{}, fmt.Errorf("registering notify endpoint: %w", err)
	}
	defer bus.Unregister(ctx, instance, kind, port)

	notifier := notifybus.NewAcceptNotifier(ln)
	defer notifier.Close()

	return Listen(ctx, st, notifier, relay, instance, timeout, filter, maxPerDelivery)
}
