package edgegateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cartwheel-labs/edge-gateway/capabilities"
	"github.com/cartwheel-labs/edge-gateway/internal/apierr"
	"github.com/cartwheel-labs/edge-gateway/internal/authn"
	"github.com/cartwheel-labs/edge-gateway/internal/cache"
	"github.com/cartwheel-labs/edge-gateway/internal/circuitbreaker"
	"github.com/cartwheel-labs/edge-gateway/internal/logging"
	"github.com/cartwheel-labs/edge-gateway/internal/metrics"
	"github.com/cartwheel-labs/edge-gateway/internal/routing"
)

// Non-standard status reported when the client disconnects before the
// upstream answers. Never sent over the wire to anyone who is still
// listening; it only feeds metrics and the request log.
const statusClientClosedRequest = 499

// RequestContext carries one request through the stage pipeline. Stages
// populate it progressively: the rate limiter sets ClientKey, routing sets
// Route, authentication sets Identity, and the cache stages track CacheKey
// and CacheHit.
type RequestContext struct {
	Request   *http.Request
	ClientKey string
	Route     *routing.Match
	Identity  *authn.Identity
	CacheKey  string
	CacheHit  bool
	started   time.Time
}

// Terminal is the final answer for a request. Either Err is set (the stable
// error contract applies) or Status/Header/Body describe a passthrough
// response.
type Terminal struct {
	Status int
	Header http.Header
	Body   []byte
	Err    *apierr.Error
}

func (t *Terminal) write(w http.ResponseWriter) {
	if t.Err != nil {
		apierr.Write(w, t.Err)
		return
	}
	for k, vv := range t.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(t.Status)
	if len(t.Body) > 0 {
		_, _ = w.Write(t.Body)
	}
}

// Outcome is what a stage returns: either continue to the next stage or
// stop with a terminal response.
type Outcome struct {
	terminal *Terminal
}

// Continue passes the request to the next stage.
func Continue() Outcome { return Outcome{} }

// Respond stops the pipeline with a fully formed response.
func Respond(t *Terminal) Outcome { return Outcome{terminal: t} }

// Fail stops the pipeline with an error from the stable contract.
func Fail(e *apierr.Error) Outcome {
	return Outcome{terminal: &Terminal{Status: e.Status, Err: e}}
}

func observeRequest(capability, method string, status int, elapsed time.Duration) {
	metrics.RequestsTotal.WithLabelValues(capability, method, metrics.StatusClass(status)).Inc()
	metrics.RequestDuration.WithLabelValues(capability).Observe(elapsed.Seconds())
}

// Stage is one step of the request pipeline.
type Stage interface {
	Name() string
	Handle(ctx context.Context, rc *RequestContext) Outcome
}

// rateLimitStage enforces the per-client fixed window. It runs first, before
// routing and authentication, so abusive clients cannot burn verification
// work.
type rateLimitStage struct{ g *Gateway }

func (s *rateLimitStage) Name() string { return "rate_limit" }

func (s *rateLimitStage) Handle(_ context.Context, rc *RequestContext) Outcome {
	d := s.g.limiter.Allow(rc.ClientKey)
	if d.Allowed {
		return Continue()
	}
	metrics.RateLimitRejections.WithLabelValues("ip").Inc()
	return Fail(apierr.RateLimited(d.RetryAfterSeconds()))
}

// routeStage resolves the inbound path against the route table.
type routeStage struct{ g *Gateway }

func (s *routeStage) Name() string { return "route" }

func (s *routeStage) Handle(_ context.Context, rc *RequestContext) Outcome {
	m, ok := s.g.routes.Resolve(rc.Request.URL.Path)
	if !ok {
		return Fail(apierr.RouteNotFound(rc.Request.URL.Path))
	}
	rc.Route = &m
	return Continue()
}

// authStage verifies the bearer credential on routes that demand one, and
// checks the role claim on routes that demand a role.
type authStage struct{ g *Gateway }

func (s *authStage) Name() string { return "auth" }

func (s *authStage) Handle(ctx context.Context, rc *RequestContext) Outcome {
	entry := rc.Route.Entry
	if !entry.RequiresAuth {
		return Continue()
	}

	token := authn.BearerToken(rc.Request)
	if token == "" {
		return Fail(apierr.CredentialRequired())
	}

	id, fromCache, err := s.g.auth.Authenticate(ctx, token)
	if err != nil {
		metrics.CredentialVerifications.WithLabelValues("invalid").Inc()
		if errors.Is(err, authn.ErrNoCredential) {
			return Fail(apierr.CredentialRequired())
		}
		return Fail(apierr.CredentialInvalid())
	}
	if fromCache {
		metrics.CredentialVerifications.WithLabelValues("cached").Inc()
	} else {
		metrics.CredentialVerifications.WithLabelValues("valid").Inc()
	}
	rc.Identity = id

	if entry.RequiresRole != "" && id.Role != entry.RequiresRole {
		return Fail(apierr.InsufficientPrivilege())
	}
	return Continue()
}

// cachedResponse is the envelope stored in the response cache.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// responseCacheKey canonicalises a GET request so equivalent requests share
// a cache entry: capability plus resolved forward path plus the query
// parameters in sorted order.
func responseCacheKey(capability, forwardPath string, query url.Values) string {
	var b strings.Builder
	b.WriteString("GET ")
	b.WriteString(capability)
	b.WriteString(" ")
	b.WriteString(forwardPath)
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sep := "?"
		for _, k := range keys {
			vals := append([]string(nil), query[k]...)
			sort.Strings(vals)
			for _, v := range vals {
				b.WriteString(sep)
				b.WriteString(url.QueryEscape(k))
				b.WriteString("=")
				b.WriteString(url.QueryEscape(v))
				sep = "&"
			}
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// cacheLookupStage serves cacheable GETs from the response cache. Only GET
// requests participate; everything else flows straight to dispatch.
type cacheLookupStage struct{ g *Gateway }

func (s *cacheLookupStage) Name() string { return "cache_lookup" }

func (s *cacheLookupStage) Handle(ctx context.Context, rc *RequestContext) Outcome {
	if s.g.responses == nil || rc.Request.Method != http.MethodGet {
		return Continue()
	}
	rc.CacheKey = responseCacheKey(rc.Route.Entry.Capability, rc.Route.ForwardPath, rc.Request.URL.Query())

	raw, err := s.g.responses.Get(ctx, rc.CacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logging.FromContext(ctx).Warn("response cache read failed", "error", err)
		}
		metrics.ResponseCacheEvents.WithLabelValues("miss").Inc()
		return Continue()
	}

	var cr cachedResponse
	if json.Unmarshal(raw, &cr) != nil {
		_ = s.g.responses.Delete(ctx, rc.CacheKey)
		metrics.ResponseCacheEvents.WithLabelValues("miss").Inc()
		return Continue()
	}

	metrics.ResponseCacheEvents.WithLabelValues("hit").Inc()
	rc.CacheHit = true
	header := http.Header{"X-Cache": []string{"HIT"}}
	if cr.ContentType != "" {
		header.Set("Content-Type", cr.ContentType)
	}
	return Respond(&Terminal{Status: cr.Status, Header: header, Body: cr.Body})
}

// dispatchStage forwards the request to its capability backend, classifies
// failures, and populates the response cache for successful GETs.
type dispatchStage struct{ g *Gateway }

func (s *dispatchStage) Name() string { return "dispatch" }

func (s *dispatchStage) Handle(ctx context.Context, rc *RequestContext) Outcome {
	entry := rc.Route.Entry
	log := logging.FromContext(ctx)

	target, ok := s.g.registry.Get(entry.Capability)
	if !ok {
		// Route table and registry are validated together, so this is a
		// wiring bug rather than a client mistake.
		log.Error("route references unregistered capability", "capability", entry.Capability)
		return Fail(apierr.CapabilityUnavailable(entry.Capability))
	}

	breaker := s.g.breakerFor(entry.Capability)
	if !breaker.Allow() {
		metrics.UpstreamErrors.WithLabelValues(entry.Capability, "circuit_open").Inc()
		return Fail(apierr.CapabilityUnavailable(entry.Capability))
	}

	var body []byte
	if rc.Request.Body != nil {
		var err error
		body, err = io.ReadAll(rc.Request.Body)
		if err != nil {
			return Fail(apierr.Internal("reading request body: "+err.Error(), s.g.dev))
		}
	}

	result, err := s.g.dispatcher.Forward(ctx, target, rc.Request.Method, rc.Route.ForwardPath, rc.Request.URL.RawQuery, rc.Request.Header, body)
	if err != nil {
		return s.failed(ctx, breaker, err)
	}

	s.recordBreaker(breaker, true)

	header := result.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if rc.CacheKey != "" {
		header.Set("X-Cache", "MISS")
		if result.Status >= 200 && result.Status < 300 {
			s.store(ctx, rc, entry, result)
		}
	}
	return Respond(&Terminal{Status: result.Status, Header: header, Body: result.Body})
}

func (s *dispatchStage) failed(ctx context.Context, breaker *circuitbreaker.Breaker, err error) Outcome {
	log := logging.FromContext(ctx)
	capability := breaker.Capability()

	var de *capabilities.DispatchError
	if !errors.As(err, &de) {
		s.recordBreaker(breaker, false)
		log.Error("dispatch failed", "capability", capability, "error", err)
		return Fail(apierr.Internal(err.Error(), s.g.dev))
	}

	switch de.Kind {
	case capabilities.KindCanceled:
		// Client hung up first. Nothing to answer, nothing to penalise.
		log.Debug("client canceled request", "capability", capability)
		return Respond(&Terminal{Status: statusClientClosedRequest})
	case capabilities.KindUnreachable:
		s.recordBreaker(breaker, false)
		metrics.UpstreamErrors.WithLabelValues(capability, "unreachable").Inc()
		log.Warn("capability unreachable", "capability", capability, "error", de.Err)
		return Fail(apierr.CapabilityUnavailable(capability))
	case capabilities.KindTimeout:
		s.recordBreaker(breaker, false)
		metrics.UpstreamErrors.WithLabelValues(capability, "timeout").Inc()
		log.Warn("capability timed out", "capability", capability, "error", de.Err)
		return Fail(apierr.CapabilityTimeout(capability))
	default:
		s.recordBreaker(breaker, false)
		metrics.UpstreamErrors.WithLabelValues(capability, "transport").Inc()
		log.Error("dispatch transport error", "capability", capability, "error", de.Err)
		return Fail(apierr.Internal(de.Err.Error(), s.g.dev))
	}
}

func (s *dispatchStage) store(ctx context.Context, rc *RequestContext, entry *routing.Entry, result *capabilities.Result) {
	cr := cachedResponse{
		Status:      result.Status,
		ContentType: result.Header.Get("Content-Type"),
		Body:        result.Body,
	}
	raw, err := json.Marshal(cr)
	if err != nil {
		return
	}
	ttl := entry.CacheTTL
	if ttl <= 0 {
		ttl = s.g.respTTL
	}
	if err := s.g.responses.Set(ctx, rc.CacheKey, raw, ttl); err != nil {
		logging.FromContext(ctx).Warn("response cache write failed", "error", err)
		return
	}
	metrics.ResponseCacheEvents.WithLabelValues("store").Inc()
}

func (s *dispatchStage) recordBreaker(breaker *circuitbreaker.Breaker, success bool) {
	if success {
		breaker.RecordSuccess()
	} else {
		breaker.RecordFailure()
	}
	metrics.CircuitBreakerState.WithLabelValues(breaker.Capability()).Set(float64(breaker.State()))
}
