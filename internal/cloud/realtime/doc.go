// Package realtime maintains the push channel from the vendor broker.
//
// The transport fetches short-lived channel credentials through the
// signed channel, holds an explicit disconnected/connecting/connected
// state machine, and owns its own reconnect backoff: delays double up to
// a ceiling and reset once a connection survives a stable window. An
// authentication rejection by the broker invalidates the cached
// credentials so the next attempt starts from a fresh fetch.
//
// Push payloads arrive in two shapes (wrapped under a params object or
// bare); Normalize accepts both and flattens nested objects to dotted
// keys before handing partial updates to the coordinator.
package realtime
