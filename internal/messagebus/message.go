// Package messagebus is hcom's send/unread/cursor engine (spec §4.4).
package messagebus

import (
	"strings"

	"github.com/hcomhq/hcom/internal/store"
)

// MaxMessageBytes bounds a single message body. Spec §4.4 requires a size
// cap but leaves the value implementation defined.
const MaxMessageBytes = 16 * 1024

// SenderKind distinguishes who is allowed to write which event types (spec
// §9): a plain instance writes message/life events for itself; "external"
// rows may only ever write message events; "system" may write message and
// status events for self-announcements.
type SenderKind string

const (
	SenderInstance SenderKind = ""
	SenderExternal SenderKind = "external"
	SenderSystem   SenderKind = "system"
)

// writableEventTypes is the spec §9 sender-kind write matrix: external may
// write messages only; system may write messages and status; the instance
// itself (SenderInstance, including LifecycleOps acting on its behalf) may
// additionally write its own life events. An unrecognized SenderKind writes
// nothing.
var writableEventTypes = map[SenderKind]map[store.EventType]bool{
	SenderExternal: {store.EventMessage: true},
	SenderSystem:   {store.EventMessage: true, store.EventStatus: true},
	SenderInstance: {store.EventMessage: true, store.EventStatus: true, store.EventLife: true},
}

// ValidateSenderKind returns ErrSenderKindForbidden unless kind is permitted
// to write eventType (spec §9).
func ValidateSenderKind(kind SenderKind, eventType store.EventType) error {
	if writableEventTypes[kind][eventType] {
		return nil
	}
	return ErrSenderKindForbidden
}

// Message is the JSON payload of a `message` event.
type Message struct {
	From        string   `json:"from"`
	Text        string   `json:"text"`
	Scope       string   `json:"scope"` // "broadcast" or "mentions"
	DeliveredTo []string `json:"delivered_to"`
	Mentions    []string `json:"mentions"`
	Intent      string   `json:"intent,omitempty"`
	Thread      string   `json:"thread,omitempty"`
	ReplyTo     string   `json:"reply_to,omitempty"`
	SenderKind  string   `json:"sender_kind,omitempty"`
}

// Status is the JSON payload of a `status` event.
type Status struct {
	Status   string `json:"status"`
	Context  string `json:"context,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Position string `json:"position,omitempty"`
	MsgTs    string `json:"msg_ts,omitempty"`
}

// ValidateText enforces the spec §4.4 text validation: nonempty, under the
// size cap, no embedded NUL.
func ValidateText(text string) error {
	if text == "" {
		return errEmptyText
	}
	if len(text) > MaxMessageBytes {
		return errTooLarge
	}
	if strings.IndexByte(text, 0) >= 0 {
		return errEmbeddedNUL
	}
	return nil
}
