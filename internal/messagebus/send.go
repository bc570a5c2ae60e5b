package messagebus

import (
	"context"
	"fmt"
	"time"

	"github.com/hcomhq/hcom/internal/addressing"
	"github.com/hcomhq/hcom/internal/store"
)

// Waker wakes every instance in names via NotifyBus. Defined here (rather
// than importing package notifybus directly) so messagebus stays agnostic
// of the transport; package notifybus's Bus type satisfies it.
type Waker interface {
	WakeInstances(ctx context.Context, names []string) error
}

// RelayPusher forwards a sent message to the external relay (spec §6). A
// nil RelayPusher means no relay is configured; Send treats that as a
// no-op, not an error.
type RelayPusher interface {
	PushMessage(ctx context.Context, msg Message) error
}

// SendParams is the input to Send, mirroring the spec §4.4 signature
// `send(from, text, targets?, intent?, reply_to?, thread?)`.
type SendParams struct {
	From          string
	Text          string
	Targets       []string // raw @tokens, nil means broadcast
	Intent        string
	ReplyTo       string
	Thread        string
	SenderKind    SenderKind
	RelayEnabled  bool
	LocalDeviceID string
}

// Send validates text, resolves addressing, appends a message event, wakes
// every delivered instance, and forwards to the relay if configured.
func Send(ctx context.Context, st *store.Store, waker Waker, relay RelayPusher, p SendParams) (int64, addressing.Result, error) {
	if err := ValidateText(p.Text); err != nil {
		return 0, addressing.Result{}, err
	}
	if err := ValidateSenderKind(p.SenderKind, store.EventMessage); err != nil {
		return 0, addressing.Result{}, err
	}

	res, err := addressing.Resolve(ctx, st, p.Targets, p.RelayEnabled, p.LocalDeviceID)
	if err != nil {
		return 0, addressing.Result{}, fmt.Errorf("resolving addressing: %w", err)
	}

	scope := "mentions"
	if len(p.Targets) == 0 {
		scope = "broadcast"
	}

	msg := Message{
		From:        p.From,
		Text:        p.Text,
		Scope:       scope,
		DeliveredTo: res.DeliveredTo,
		Mentions:    res.Mentions,
		Intent:      p.Intent,
		Thread:      p.Thread,
		ReplyTo:     p.ReplyTo,
		SenderKind:  string(p.SenderKind),
	}

	eventID, err := st.AppendEvent(ctx, store.EventMessage, p.From, msg, time.Time{})
	if err != nil {
		return 0, addressing.Result{}, fmt.Errorf("appending message event: %w", err)
	}

	if waker != nil && len(res.DeliveredTo) > 0 {
		// Best-effort: a failed wake does not fail the send, the message
		// is already durable and will be picked up on the next poll or
		// Stop-hook drain.
		_ = waker.WakeInstances(ctx, res.DeliveredTo)
	}

	if relay != nil {
		_ = relay.PushMessage(ctx, msg)
	}

	if err := emitDeliveredStatus(ctx, st, p.From, msg, eventID); err != nil {
		return eventID, res, fmt.Errorf("emitting delivery status: %w", err)
	}

	return eventID, res, nil
}

// emitDeliveredStatus writes the transitive status event the spec §4.4
// requires on successful delivery: status=active, context=deliver:<sender>,
// msg_ts=<last-delivered-timestamp>.
func emitDeliveredStatus(ctx context.Context, st *store.Store, from string, msg Message, eventID int64) error {
	if len(msg.DeliveredTo) == 0 {
		return nil
	}
	status := Status{
		Status:  "active",
		Context: "deliver:" + from,
		MsgTs:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, name := range msg.DeliveredTo {
		if _, err := st.AppendEvent(ctx, store.EventStatus, name, status, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}
