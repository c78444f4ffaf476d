package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func traceEchoHandler(captured *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = TraceIDFromContext(r.Context())
	})
}

func TestMiddleware_MintsTraceID(t *testing.T) {
	var seen string
	h := Middleware(traceEchoHandler(&seen))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	echoed := rec.Header().Get("X-Request-ID")
	if echoed == "" {
		t.Fatal("no X-Request-ID echoed")
	}
	if len(echoed) != 32 {
		t.Errorf("trace ID length = %d, want 32 hex chars", len(echoed))
	}
	if seen != echoed {
		t.Errorf("context trace ID %q != echoed %q", seen, echoed)
	}
}

func TestMiddleware_AdoptsInboundID(t *testing.T) {
	var seen string
	h := Middleware(traceEchoHandler(&seen))

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("X-Request-ID", "storefront-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "storefront-42" {
		t.Errorf("trace ID = %q, want storefront-42", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "storefront-42" {
		t.Errorf("echoed = %q, want storefront-42", got)
	}
}

func TestMiddleware_RejectsMalformedInboundID(t *testing.T) {
	cases := map[string]string{
		"control bytes": "abc\ndef",
		"whitespace":    "has space",
		"too long":      string(make([]byte, 80)),
		"non-ascii":     "id-\xff",
	}
	for name, inbound := range cases {
		var seen string
		h := Middleware(traceEchoHandler(&seen))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", inbound)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if seen == inbound {
			t.Errorf("%s: malformed inbound ID was adopted", name)
		}
		if seen == "" {
			t.Errorf("%s: no replacement ID minted", name)
		}
	}
}

func TestFromContext_AnnotatesTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "t-123")
	if got := TraceIDFromContext(ctx); got != "t-123" {
		t.Errorf("trace ID = %q, want t-123", got)
	}
	if FromContext(ctx) == Logger {
		t.Error("FromContext should return an annotated logger for a traced context")
	}
	if FromContext(context.Background()) != Logger {
		t.Error("FromContext without trace ID should return the base logger")
	}
}
