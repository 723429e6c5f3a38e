// Package rest implements the signed request/response channel to the
// vendor cloud: full-state polls, one-shot commands, device wake nudges,
// the account device list, and the certification endpoint that issues
// realtime channel credentials.
//
// Every request is authenticated with the HMAC-SHA256 scheme in
// internal/cloud/sign; the four auth parameters travel as query string
// values on every verb. Errors are classified into the package sentinels
// (ErrAuthentication, ErrTransport, ErrProtocol) plus the typed APIError
// carrying vendor application codes verbatim, so callers can pick retry
// behavior per class.
package rest
