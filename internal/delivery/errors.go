package delivery

import "errors"

var (
	// Conflict
	ErrDuplicateName = errors.New("channel name already exists")
	ErrChannelInUse  = errors.New("channel has pending deliveries")

	// Validation
	ErrInvalidName        = errors.New("invalid channel name")
	ErrInvalidDestination = errors.New("invalid channel destination id")
	ErrInvalidDelay       = errors.New("delay must be positive")
	ErrTextTooLong        = errors.New("message text too long")
	ErrEmptyText          = errors.New("message text is empty")

	// Lookup
	ErrChannelNotFound  = errors.New("channel not found")
	ErrDeliveryNotFound = errors.New("delivery not found")
)
