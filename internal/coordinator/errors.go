package coordinator

import "errors"

var (
	// ErrUnknownDevice is returned by Fleet lookups for serial numbers
	// without a coordinator.
	ErrUnknownDevice = errors.New("coordinator: unknown device")
)
