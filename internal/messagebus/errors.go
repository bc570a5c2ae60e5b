package messagebus

import "errors"

var (
	errEmptyText   = errors.New("messagebus: text must not be empty")
	errTooLarge    = errors.New("messagebus: text exceeds size cap")
	errEmbeddedNUL = errors.New("messagebus: text contains an embedded NUL byte")

	// ErrSenderKindForbidden is returned when a sender kind attempts to
	// write an event type it is not permitted to write (spec §9).
	ErrSenderKindForbidden = errors.New("messagebus: sender kind may not write this event type")
)
