package realtime

import "errors"

var (
	// ErrConnect covers handshake and subscribe failures against the
	// broker. The reconnect loop retries these with backoff.
	ErrConnect = errors.New("realtime: connect failed")

	// ErrCredentials marks an authentication rejection by the broker.
	// The cached credential set is discarded before the next attempt.
	ErrCredentials = errors.New("realtime: credentials rejected")

	// ErrPayload covers undecodable push payloads. The message is
	// dropped; the device snapshot is untouched.
	ErrPayload = errors.New("realtime: malformed payload")
)
