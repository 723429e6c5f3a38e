package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gridflow-core/internal/infrastructure/config"
)

// Attribute keys that carry cloud credentials. Values under these keys
// are redacted before they reach any handler; a leaked secret key is a
// full account compromise on the vendor side.
var secretKeys = map[string]struct{}{
	"secret_key":           {},
	"password":             {},
	"certificate_password": {},
}

// truncatedKeys are safe to log in part for correlation with the vendor
// developer portal, but not in full.
var truncatedKeys = map[string]struct{}{
	"access_key":          {},
	"certificate_account": {},
}

// Logger wraps slog.Logger with GridFlow-specific functionality:
// default service fields, level filtering, and credential redaction.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Redaction of credential attributes
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactCredentials,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "gridflow"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// redactCredentials is the slog ReplaceAttr hook that strips or
// truncates credential values regardless of which component logged them.
func redactCredentials(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[a.Key]; ok {
		a.Value = slog.StringValue("[redacted]")
		return a
	}
	if _, ok := truncatedKeys[a.Key]; ok {
		a.Value = slog.StringValue(Truncate(a.Value.String()))
	}
	return a
}

// Truncate shortens a credential to its first 8 characters for safe
// logging. Shorter values are redacted outright.
func Truncate(s string) string {
	if len(s) <= 8 {
		return "[redacted]"
	}
	return s[:8] + "..."
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	restLogger := logger.With("component", "rest")
//	restLogger.Info("poll complete") // Includes component=rest
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
