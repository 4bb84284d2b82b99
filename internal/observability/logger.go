// Package observability provides logging for tvplay.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/masq"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/models"
	"github.com/jmylchreest/tvplay/internal/urlutil"
)

// LevelTrace is below debug and used for per-read engine chatter.
const LevelTrace = slog.Level(-8)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	loggerKey contextKey = "logger"
)

const redactedMessage = "[REDACTED]"

// sensitiveFields are attribute keys whose values are never logged.
var sensitiveFields = map[string]bool{
	"password":   true,
	"secret":     true,
	"token":      true,
	"apikey":     true,
	"api_key":    true,
	"credential": true,
}

var (
	sensitiveParam = regexp.MustCompile(`(?i)([?&](?:password|passwd|token|apikey|api_key|secret|credential|auth)=)[^&#\s"]*`)
	userinfoSecret = regexp.MustCompile(`(://[^:/@\s]+:)[^@/\s]+@`)
)

// NewLogger creates a logger writing to stderr and, when cfg.File is set, to
// a rotated log file. The returned closer releases the file.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	w, closer, err := Writer(cfg, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return NewLoggerWithWriter(cfg, w), closer, nil
}

// Writer returns console, or console mirrored to a lumberjack-rotated file
// when cfg.File is set.
func Writer(cfg config.LoggingConfig, console io.Writer) (io.Writer, io.Closer, error) {
	if cfg.File == "" {
		return console, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return io.MultiWriter(console, file), file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLoggerWithWriter creates a logger that writes to w. Sensitive
// attributes and URL credentials are redacted.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	redact := newRedactor()

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch a.Key {
				case slog.TimeKey:
					if cfg.TimeFormat != "" {
						if t, ok := a.Value.Any().(time.Time); ok {
							return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
						}
					}
					return a
				case slog.LevelKey:
					if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
						return slog.String(slog.LevelKey, "TRACE")
					}
					return a
				case slog.SourceKey:
					if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
						return slog.String("logpos", fmt.Sprintf("%s:%d", trimSourcePath(src.File), src.Line))
					}
					return a
				case slog.MessageKey:
					return a
				}
			}
			if a.Value.Kind() != slog.KindString {
				return a
			}
			return redact(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func newRedactor() func([]string, slog.Attr) slog.Attr {
	return masq.New(
		masq.WithRedactMessage(redactedMessage),
		masq.WithCensor(func(fieldName string, _ any, _ string) bool {
			return sensitiveFields[strings.ToLower(fieldName)]
		}),
		masq.WithRegex(sensitiveParam, masq.RedactString(redactURL)),
		masq.WithRegex(userinfoSecret, masq.RedactString(redactURL)),
	)
}

// redactURL masks sensitive query parameter values and userinfo passwords,
// keeping the rest of the string readable.
func redactURL(s string) string {
	s = sensitiveParam.ReplaceAllString(s, "${1}"+redactedMessage)
	return userinfoSecret.ReplaceAllString(s, "${1}"+redactedMessage+"@")
}

// trimSourcePath shortens a source file to its module-relative path.
func trimSourcePath(file string) string {
	file = filepath.ToSlash(file)
	for _, marker := range []string{"/internal/", "/cmd/", "/pkg/"} {
		if i := strings.LastIndex(file, marker); i >= 0 {
			return file[i+1:]
		}
	}
	return filepath.Base(file)
}

// parseLevel converts a string log level to slog.Level. "warning" is
// accepted for "warn".
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithApp tags every record with the application name.
func WithApp(logger *slog.Logger, app string) *slog.Logger {
	return logger.With(slog.String("app", app))
}

// WithRequestID adds a request ID to the logger.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithSession adds a playback session ID.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String("session_id", sessionID))
}

// WithTarget adds the target's ID and its URI with credentials masked.
func WithTarget(logger *slog.Logger, target models.Target) *slog.Logger {
	return logger.With(
		slog.String("target_id", target.ID),
		slog.String("target_uri", urlutil.Redact(target.URI)),
	)
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext extracts a logger from the context.
// If no logger is found, returns the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// RequestIDFromContext extracts a request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// SetDefault sets the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperationWithError logs the start and end of an operation. The error
// pointer is read when the returned function runs, so errors assigned after
// this call are reported.
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
			return
		}
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		)
	}
}
