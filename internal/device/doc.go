// Package device is the registry of configured cloud devices: which
// serial numbers exist, whether each one is enabled for a coordinator,
// and any per-device poll interval override.
//
// Persistence is a SQLite repository behind the Repository interface;
// Registry adds an in-memory cache and the sync with the vendor account
// device list. The cloud list only ever adds or refreshes entries,
// local disables and deletions stick.
package device
