// Package relay defines the named interfaces the messaging core calls into
// for cross-device sync, plus a no-op implementation. The relay itself —
// the service that actually ships events between hosts — is explicitly out
// of scope (spec's external collaborators, §6); this package only gives
// messagebus and pullengine a concrete collaborator to call so `RelayEnabled`
// addressing and PullEngine's relay wait have somewhere real to go
// once a relay is configured, without the core depending on its transport.
package relay

import (
	"context"
	"time"

	"github.com/hcomhq/hcom/internal/messagebus"
)

// Relay is the full external-collaborator surface: forwarding a sent
// message (messagebus.RelayPusher) and a short poll used to fold relay
// activity into PullEngine's wait cycle (pullengine.RelayWaiter).
type Relay interface {
	PushMessage(ctx context.Context, msg messagebus.Message) error
	Wait(ctx context.Context, timeout time.Duration) bool
}

// Noop satisfies Relay without talking to anything. It's the default
// collaborator when no relay is configured: PushMessage is a silent no-op,
// and Wait always blocks for the full timeout and reports nothing new,
// mirroring a relay poll that never finds remote activity.
type Noop struct{}

// New returns the no-op relay. There is no other implementation in this
// repo: relay sync is a named interface, not a built system.
func New() Relay {
	return Noop{}
}

func (Noop) PushMessage(ctx context.Context, msg messagebus.Message) error {
	return nil
}

func (Noop) Wait(ctx context.Context, timeout time.Duration) bool {
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
	}
	return false
}
