package outbox

import "errors"

// Sentinel errors for the outbox service layer.
var (
	// ErrQueue is returned when a batch could not be recorded. No rows
	// from the batch are visible afterwards.
	ErrQueue = errors.New("email could not be queued")

	// ErrInvalidMessage is returned before touching the store when the
	// message is missing a subject or has a blank recipient.
	ErrInvalidMessage = errors.New("invalid email message")
)
