package broadcast

import "errors"

// Sentinel errors for the broadcast service layer.
var (
	ErrEventNotFound  = errors.New("event not found")
	ErrInvalidRequest = errors.New("invalid broadcast request")
)
