// Package coordinator reconciles the two cloud transports into one
// authoritative snapshot per device.
//
// Each Coordinator is the single writer of its device's field mapping:
// realtime partials merge immediately, REST polls merge on a fixed
// ticker, and both paths run the change tracker so subscribers only hear
// about real transitions. REST is authoritative for the keys it returns;
// fields it previously reported but dropped are removed, while fields
// only ever delivered by the push channel survive polls untouched.
//
// The connection mode (rest_only, hybrid, realtime_standby) is derived
// telemetry about channel health. It controls log verbosity and wake
// behavior, never the polling cadence: the poll ticker runs at its
// configured interval for the life of the coordinator regardless of how
// well the push channel is doing.
package coordinator
