// Package notifybus is hcom's local TCP wake-endpoint fabric (spec §4.5).
// Each engine that wants to be woken opens a loopback listener and
// registers it in the store; waking is "send one byte and close" to every
// registered port for a target instance.
package notifybus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hcomhq/hcom/internal/logx"
	"github.com/hcomhq/hcom/internal/store"
)

// Kind distinguishes endpoint roles — one instance may register more than
// one listener (e.g. both its PushEngine and PullEngine want to be woken).
type Kind string

const (
	KindPush       Kind = "push"
	KindPull       Kind = "listen"
	KindHook       Kind = "hook"        // PullEngine invoked from a tool hook
	KindEventsWait Kind = "events_wait" // PullEngine invoked from `hcom events --wait`
)

const dialTimeout = 500 * time.Millisecond

// Bus wires NotifyBus registration and waking to a store.
type Bus struct {
	st *store.Store
}

// NewBus constructs a Bus backed by st.
func NewBus(st *store.Store) *Bus {
	return &Bus{st: st}
}

// Listen opens a loopback TCP listener on an OS-assigned port and registers
// it for instance/kind. Callers own the returned listener's lifecycle;
// Unregister must be called when it's closed so stale rows don't
// accumulate.
func (b *Bus) Listen(ctx context.Context, instance string, kind Kind) (net.Listener, int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("opening notify listener for %s/%s: %w", instance, kind, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := b.st.UpsertNotifyEndpoint(ctx, instance, string(kind), port); err != nil {
		ln.Close()
		return nil, 0, fmt.Errorf("registering notify endpoint %s/%s:%d: %w", instance, kind, port, err)
	}
	return ln, port, nil
}

// Unregister removes a previously registered endpoint.
func (b *Bus) Unregister(ctx context.Context, instance string, kind Kind, port int) error {
	return b.st.DeleteNotifyEndpoint(ctx, instance, string(kind), port)
}

// Accept is the receiver's side of the "send one byte, close" contract: it
// drains the connection and closes it. The wake-byte itself carries no
// payload; callers MUST re-check the store after every wake rather than
// trust the connection content.
func Accept(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	conn.Read(buf) //nolint:errcheck // advisory only, content is never meaningful
}

// WakeInstances wakes every registered endpoint for each name in names.
// Waking is best-effort per spec §4.5: a connect failure prunes that row
// rather than failing the whole call. A broadcast send (len(names) > 1)
// wakes the union of ports across all named instances.
func (b *Bus) WakeInstances(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := b.wakeOne(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// WakePorts wakes a specific set of ports directly, without a store
// lookup. LifecycleOps' Stop uses this: spec §4.8 requires notifying
// listeners *after* the instance row is deleted, by which point a
// by-name lookup would find nothing — the ports must be captured before
// deletion and woken by address instead.
func (b *Bus) WakePorts(ports []int) {
	for _, port := range ports {
		_ = wakePort(port)
	}
}

func (b *Bus) wakeOne(ctx context.Context, name string) error {
	endpoints, err := b.st.ListNotifyPorts(ctx, name)
	if err != nil {
		return fmt.Errorf("listing notify ports for %s: %w", name, err)
	}
	for _, ep := range endpoints {
		if err := wakePort(ep.Port); err != nil {
			logx.Debug("notifybus", "wake_failed", logx.F("instance", name), logx.F("port", ep.Port), logx.F("error", err.Error()))
			if delErr := b.st.DeleteNotifyEndpoint(ctx, ep.Instance, ep.Kind, ep.Port); delErr != nil {
				return fmt.Errorf("pruning dead notify endpoint: %w", delErr)
			}
		}
	}
	return nil
}

// AcceptNotifier turns a notifybus-registered listener into a blocking
// wait primitive: each wake connection becomes one buffered signal. Both
// PushEngine and PullEngine wait on one of these between delivery attempts.
type AcceptNotifier struct {
	ln     net.Listener
	wakeCh chan struct{}
	done   chan struct{}
}

// NewAcceptNotifier starts accepting wake connections on ln in the
// background. Closing the returned notifier closes ln.
func NewAcceptNotifier(ln net.Listener) *AcceptNotifier {
	n := &AcceptNotifier{ln: ln, wakeCh: make(chan struct{}, 1), done: make(chan struct{})}
	go n.acceptLoop()
	return n
}

func (n *AcceptNotifier) acceptLoop() {
	for {
		conn, err := n.ln.Accept()
		if err != nil {
			return
		}
		Accept(conn)
		select {
		case n.wakeCh <- struct{}{}:
		default:
		}
	}
}

// Wait blocks until a wake arrives or timeout elapses, returning whether a
// wake was observed.
func (n *AcceptNotifier) Wait(timeout time.Duration) bool {
	select {
	case <-n.wakeCh:
		return true
	case <-n.done:
		return false
	case <-time.After(timeout):
		return false
	}
}

// Close stops the accept loop and closes the underlying listener.
func (n *AcceptNotifier) Close() error {
	select {
	case <-n.done:
	default:
		close(n.done)
	}
	return n.ln.Close()
}

func wakePort(port int) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte{0})
	return err
}
