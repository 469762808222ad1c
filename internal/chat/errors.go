package chat

import "errors"

var (
	// ErrInvalidMessage wraps every validation failure on input.
	ErrInvalidMessage = errors.New("invalid message")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("not authorized")

	// ErrDeliveryDegraded means the message was stored but could not be
	// published for live delivery. It is not rolled back: readers will
	// see it in history.
	ErrDeliveryDegraded = errors.New("message saved but live delivery failed")
)
