package capabilities

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Kind classifies a failed forwarding attempt.
type Kind int

const (
	// KindUnreachable — the capability could not be reached at all
	// (connection refused, DNS failure, dial error).
	KindUnreachable Kind = iota
	// KindTimeout — the capability did not answer within the bounded timeout.
	KindTimeout
	// KindCanceled — the inbound client went away before the call finished.
	KindCanceled
	// KindTransport — any other transport fault (malformed response, reset
	// mid-body, ...).
	KindTransport
)

// DispatchError wraps an upstream transport failure with its classification
// and the capability it names.
type DispatchError struct {
	Capability string
	Kind       Kind
	Err        error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", e.Capability, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *DispatchError) Unwrap() error { return e.Err }

// Result is a successful upstream response: whatever the backend returned,
// including backend-declared error statuses, passed through verbatim.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Dispatcher forwards requests to capabilities with a bounded timeout.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher. A zero timeout defaults to 30s.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		// Timeout is enforced per call via context so the classification
		// can distinguish client cancellation from the upstream deadline.
		client:  &http.Client{},
		timeout: timeout,
	}
}

// hopByHopHeaders must not be forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forward issues a single forwarding attempt to capability: method and body
// unchanged, path already rewritten by the router, query passed through.
// Host-identifying and hop-by-hop headers are stripped so the backend sees
// its own host; everything else is forwarded unmodified.
func (d *Dispatcher) Forward(ctx context.Context, capability *Capability, method, path, rawQuery string, header http.Header, body []byte) (*Result, error) {
	upstreamURL := capability.BaseURL() + path
	if rawQuery != "" {
		upstreamURL += "?" + rawQuery
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, upstreamURL, reader)
	if err != nil {
		return nil, &DispatchError{Capability: capability.Name(), Kind: KindTransport, Err: err}
	}

	copyHeaders(req.Header, header)
	// The Host header is derived from the upstream URL; never forward the
	// gateway's own.
	req.Host = ""

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, d.classify(ctx, capability.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, d.classify(ctx, capability.Name(), err)
	}

	out := &Result{
		Status: resp.StatusCode,
		Header: make(http.Header, len(resp.Header)),
		Body:   respBody,
	}
	copyHeaders(out.Header, resp.Header)
	return out, nil
}

// classify maps a transport error onto exactly one DispatchError kind.
func (d *Dispatcher) classify(parent context.Context, capability string, err error) *DispatchError {
	de := &DispatchError{Capability: capability, Err: err}

	switch {
	case parent.Err() != nil && errors.Is(parent.Err(), context.Canceled):
		// The inbound client disconnected; the deadline did not fire.
		de.Kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		de.Kind = KindTimeout
	case isTimeout(err):
		de.Kind = KindTimeout
	case isUnreachable(err):
		de.Kind = KindUnreachable
	default:
		de.Kind = KindTransport
	}
	return de
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	for _, key := range hopByHopHeaders {
		dst.Del(key)
	}
}
