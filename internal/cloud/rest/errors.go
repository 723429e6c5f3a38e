package rest

import (
	"errors"
	"fmt"
)

// Sentinel errors for the signed HTTP channel. Callers distinguish the
// classes with errors.Is; the class decides retry behavior upstream.
var (
	// ErrAuthentication covers rejected signatures, expired nonces and bad
	// keys. Never retried with identical parameters.
	ErrAuthentication = errors.New("rest: authentication rejected")

	// ErrTransport covers network failures, timeouts and non-2xx HTTP
	// statuses without a vendor envelope. Eligible for caller retry.
	ErrTransport = errors.New("rest: transport failure")

	// ErrProtocol covers undecodable or structurally unexpected response
	// bodies. The caller skips the update and keeps its previous state.
	ErrProtocol = errors.New("rest: malformed response")
)

// APIError is a vendor-reported application error: the request was
// well-formed and authenticated but the service refused it. The vendor
// code and message are carried verbatim for the caller.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: api error (code %s): %s", e.Code, e.Message)
}
