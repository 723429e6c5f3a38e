// Package sign implements the vendor's HMAC-SHA256 request signing scheme.
//
// Every cloud request carries three authentication query parameters
// (accessKey, nonce, timestamp) plus a signature computed over the
// flattened, sorted parameter set. The flattening rules for nested
// structures and the value rendering rules (lowercase booleans, shortest
// decimal numbers) are part of the wire contract: a single divergent byte
// produces an invalid signature and a rejected request.
//
// The package is pure computation with no I/O; all functions are safe for
// concurrent use.
package sign
