package protocol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// notifySlot tracks the last idle status emitted for an instance so that
// repeated Notification-hook firings for the same reason don't each append
// their own status event. Hook invocations are one-shot processes with no
// memory of the last firing, so the dedupe state has to live on disk rather
// than in a running process, unlike pushengine's in-memory gate-block
// debounce.
type notifySlot struct {
	Slot     string    `json:"slot"`
	Instance string    `json:"instance"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
	Consumed bool      `json:"consumed"`
}

// notifyDedup is the slot-based deduplicator behind handleNotify: for a
// given (instance, slot) pair, only one pending notification matters at a
// time, and a fresh one replaces whatever was pending.
//
// All exported methods are safe for concurrent use.
type notifyDedup struct {
	mu       sync.Mutex
	stateDir string
	maxAge   time.Duration
}

func newNotifyDedup(stateDir string, maxAge time.Duration) *notifyDedup {
	return &notifyDedup{stateDir: stateDir, maxAge: maxAge}
}

const slotIdle = "idle"

func (d *notifyDedup) slotPath(instance, slot string) string {
	safe := instance
	for i := range safe {
		if safe[i] == '/' {
			safe = safe[:i] + "-" + safe[i+1:]
		}
	}
	return filepath.Join(d.stateDir, fmt.Sprintf("slot-%s-%s.json", safe, slot))
}

func (d *notifyDedup) getSlotLocked(instance, slot string) (*notifySlot, error) {
	data, err := os.ReadFile(d.slotPath(instance, slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ns notifySlot
	if err := json.Unmarshal(data, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

func (d *notifyDedup) shouldSendLocked(instance, slot string) (bool, error) {
	ns, err := d.getSlotLocked(instance, slot)
	if err != nil {
		return true, err
	}
	if ns == nil || ns.Consumed {
		return true, nil
	}
	return time.Since(ns.SentAt) > d.maxAge, nil
}

// SendIfReady atomically checks whether a notification should be sent for
// the given (instance, slot) pair and, if so, records the send. Returns
// true if the caller should actually emit it.
func (d *notifyDedup) SendIfReady(instance, slot, message string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ok, err := d.shouldSendLocked(instance, slot)
	if err != nil {
		return true, err
	}
	if !ok {
		return false, nil
	}
	if err := os.MkdirAll(d.stateDir, 0755); err != nil {
		return true, err
	}
	ns := notifySlot{Slot: slot, Instance: instance, Message: message, SentAt: time.Now()}
	data, err := json.Marshal(ns)
	if err != nil {
		return true, err
	}
	return true, os.WriteFile(d.slotPath(instance, slot), data, 0600)
}

// MarkConsumed marks a slot's pending notification as consumed: the
// instance showed real activity (a tool ran, a prompt landed), so the next
// Notification hook is free to emit again immediately.
func (d *notifyDedup) MarkConsumed(instance, slot string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ns, err := d.getSlotLocked(instance, slot)
	if err != nil {
		return err
	}
	if ns == nil {
		return nil
	}
	ns.Consumed = true
	data, err := json.Marshal(ns)
	if err != nil {
		return err
	}
	return os.WriteFile(d.slotPath(instance, slot), data, 0600)
}

// ClearSlot removes an instance's slot state, used on session end so a
// later `start` under the same name doesn't inherit stale dedup state.
func (d *notifyDedup) ClearSlot(instance, slot string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := os.Remove(d.slotPath(instance, slot))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
