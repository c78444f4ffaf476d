// Package logging configures the gateway's structured logs and threads a
// per-request trace ID through the context so every pipeline stage, the
// dispatcher, and the async request-log writer all log under the same ID.
// The ID is minted at the edge (or adopted from a well-formed inbound
// X-Request-ID) and echoed back to the client for support tickets.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
)

type traceIDKey struct{}

// Logger is the process-wide structured logger. It starts as a JSON logger
// at info level so packages can log before configuration is read; the
// server entry point calls Setup once with the operator's LOG_LEVEL and
// LOG_FORMAT values.
var Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// Setup replaces the process logger. level is debug, info, warn, or error
// (unrecognised values fall back to info); format is "text" for local
// development or "json" (the default) for log shippers.
func Setup(level, format string) {
	lvl := slog.LevelInfo
	if level != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(level)); err == nil {
			lvl = parsed
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// NewTraceID mints a random 16-byte hex trace ID.
func NewTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext retrieves the trace ID stored in the context, or ""
// when the request never passed through Middleware.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey{}).(string)
	return v
}

// FromContext returns a *slog.Logger pre-annotated with the trace_id from
// ctx. Prefer it over the bare Logger inside request handling.
func FromContext(ctx context.Context) *slog.Logger {
	if id := TraceIDFromContext(ctx); id != "" {
		return Logger.With("trace_id", id)
	}
	return Logger
}

// reusableTraceID reports whether a client-supplied X-Request-ID is safe to
// adopt: non-empty, bounded, printable ASCII with no whitespace. Anything
// else could split log lines or smuggle header content, so the gateway
// mints its own instead.
func reusableTraceID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// Middleware assigns every request a trace ID, stores it in the request
// context, and echoes it in the X-Request-ID response header. A
// well-formed inbound X-Request-ID is kept so storefront frontends can
// correlate their own logs with the gateway's.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Request-ID")
		if !reusableTraceID(traceID) {
			traceID = NewTraceID()
		}
		ctx := WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Request-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
