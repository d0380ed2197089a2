package orders

import "errors"

// ErrInvalidTransition is returned when a status change violates the order state machine.
var ErrInvalidTransition = errors.New("invalid status transition")
