// Package logging provides structured logging for GridFlow Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8090)
//	logger.Error("poll failed", "error", err)
//
// # Security
//
// Never log secrets, tokens, passwords, or API keys. The cloud secret key
// and realtime channel password must not appear in any log entry; log the
// access key truncated if it is needed for diagnostics:
//
//	logger.Info("signed request", "access_key", key[:8]+"...")
package logging
