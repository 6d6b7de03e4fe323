package domain

import "errors"

var (
	// ErrStoreUnavailable wraps every failure of the connection store backend.
	ErrStoreUnavailable = errors.New("connection store unavailable")
	// ErrDeliveryFailed marks a connection as unreachable. Triggers pruning.
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrConnectionNotFound = errors.New("connection not found")
)
