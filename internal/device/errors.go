package device

import "errors"

var (
	// ErrDeviceNotFound is returned when a serial number is not in the
	// registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose serial
	// number is already registered.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device fails validation.
	ErrInvalidDevice = errors.New("device: invalid")
)
