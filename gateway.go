package edgegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cartwheel-labs/edge-gateway/capabilities"
	"github.com/cartwheel-labs/edge-gateway/internal/admin"
	"github.com/cartwheel-labs/edge-gateway/internal/apierr"
	"github.com/cartwheel-labs/edge-gateway/internal/authn"
	"github.com/cartwheel-labs/edge-gateway/internal/cache"
	"github.com/cartwheel-labs/edge-gateway/internal/circuitbreaker"
	"github.com/cartwheel-labs/edge-gateway/internal/logging"
	"github.com/cartwheel-labs/edge-gateway/internal/ratelimit"
	"github.com/cartwheel-labs/edge-gateway/internal/requestlog"
	"github.com/cartwheel-labs/edge-gateway/internal/routing"
)

// Gateway is the storefront edge gateway. It implements http.Handler: every
// request runs through the stage pipeline (rate limit, route, auth, cache,
// dispatch) and ends in exactly one terminal response.
type Gateway struct {
	cfg         Config
	routes      *routing.Table
	registry    *capabilities.Registry
	dispatcher  *capabilities.Dispatcher
	auth        *authn.Authenticator
	limiter     *ratelimit.Store
	credentials cache.Store
	responses   cache.Store
	respTTL     time.Duration
	dev         bool
	started     time.Time

	breakersMu sync.Mutex
	breakers   map[string]*circuitbreaker.Breaker

	logWriter requestlog.Writer
	logWG     sync.WaitGroup

	stages []Stage
}

// New builds a Gateway from cfg with in-memory credential and response
// caches.
func New(cfg Config) (*Gateway, error) {
	capacity := cfg.Cache.Capacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	credTTL := cfg.Auth.CredentialTTL.Std()
	if credTTL <= 0 {
		credTTL = DefaultCredentialTTL
	}
	respTTL := cfg.Cache.ResponseTTL.Std()
	if respTTL <= 0 {
		respTTL = DefaultResponseTTL
	}
	return NewWithStores(cfg, cache.NewMemory(capacity, credTTL), cache.NewMemory(capacity, respTTL))
}

// NewWithStores builds a Gateway with caller-supplied cache stores, e.g.
// Redis-backed ones. responses may be nil to disable response caching.
func NewWithStores(cfg Config, credentials, responses cache.Store) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := capabilities.NewRegistry()
	for name, base := range cfg.Capabilities {
		c, err := capabilities.New(name, base)
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", name, err)
		}
		registry.Register(c)
	}

	entries := make([]routing.Entry, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		entries = append(entries, routing.Entry{
			Prefix:       r.Prefix,
			Capability:   r.Capability,
			RewriteBase:  r.RewriteBase,
			RequiresAuth: r.RequiresAuth,
			RequiresRole: r.RequiresRole,
			CacheTTL:     r.CacheTTL.Std(),
		})
	}
	table, err := routing.NewTable(entries)
	if err != nil {
		return nil, err
	}

	window := cfg.RateLimit.Window.Std()
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	limit := cfg.RateLimit.Max
	if limit <= 0 {
		limit = DefaultRateLimitMax
	}

	timeout := cfg.UpstreamTimeout.Std()
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}

	respTTL := cfg.Cache.ResponseTTL.Std()
	if respTTL <= 0 {
		respTTL = DefaultResponseTTL
	}

	g := &Gateway{
		cfg:         cfg,
		routes:      table,
		registry:    registry,
		dispatcher:  capabilities.NewDispatcher(timeout),
		auth:        authn.NewAuthenticator(authn.NewJWTVerifier(cfg.Auth.Secret), credentials, cfg.Auth.CredentialTTL.Std()),
		limiter:     ratelimit.NewStore(window, limit),
		credentials: credentials,
		responses:   responses,
		respTTL:     respTTL,
		dev:         cfg.Dev,
		started:     time.Now(),
		breakers:    make(map[string]*circuitbreaker.Breaker),
		logWriter:   requestlog.NoopWriter{},
	}
	g.stages = []Stage{
		&rateLimitStage{g},
		&routeStage{g},
		&authStage{g},
		&cacheLookupStage{g},
		&dispatchStage{g},
	}
	return g, nil
}

// SetRequestLog installs a persistent access-log writer. Entries are
// written asynchronously after each response.
func (g *Gateway) SetRequestLog(w requestlog.Writer) {
	if w == nil {
		w = requestlog.NoopWriter{}
	}
	g.logWriter = w
}

// ServeHTTP runs the stage pipeline for one request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := &RequestContext{
		Request:   r,
		ClientKey: clientKey(r),
		started:   time.Now(),
	}

	var terminal *Terminal
	for _, stage := range g.stages {
		out := stage.Handle(r.Context(), rc)
		if out.terminal != nil {
			terminal = out.terminal
			break
		}
	}
	if terminal == nil {
		logging.FromContext(r.Context()).Error("pipeline ended without a terminal outcome", "path", r.URL.Path)
		e := apierr.Internal("request pipeline produced no response", g.dev)
		terminal = &Terminal{Status: e.Status, Err: e}
	}

	if terminal.Status != statusClientClosedRequest {
		terminal.write(w)
	}
	g.finish(r, rc, terminal)
}

// finish records metrics and the access-log entry for a completed request.
func (g *Gateway) finish(r *http.Request, rc *RequestContext, t *Terminal) {
	capability := "none"
	if rc.Route != nil {
		capability = rc.Route.Entry.Capability
	}
	observeRequest(capability, r.Method, t.Status, time.Since(rc.started))

	if _, ok := g.logWriter.(requestlog.NoopWriter); ok {
		return
	}
	entry := requestlog.Entry{
		TraceID:    logging.TraceIDFromContext(r.Context()),
		ClientKey:  rc.ClientKey,
		Method:     r.Method,
		Path:       r.URL.Path,
		Capability: capability,
		Status:     t.Status,
		DurationMs: time.Since(rc.started).Milliseconds(),
		CacheHit:   rc.CacheHit,
		CreatedAt:  time.Now().UTC(),
	}
	if t.Err != nil {
		entry.ErrorCode = t.Err.Code
	}
	g.logWG.Add(1)
	go func() {
		defer g.logWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.logWriter.Write(ctx, entry); err != nil {
			logging.FromContext(ctx).Warn("request log write failed", "error", err)
		}
	}()
}

// Handler wraps the pipeline with the outer HTTP surface: real-IP
// resolution, trace IDs, panic recovery, health and metrics endpoints.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/healthz", g.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Handle("/api/*", g)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"capabilities": g.registry.List(),
	})
}

// Capabilities lists the configured capability names.
func (g *Gateway) Capabilities() []string {
	return g.registry.List()
}

func (g *Gateway) breakerFor(capability string) *circuitbreaker.Breaker {
	g.breakersMu.Lock()
	defer g.breakersMu.Unlock()
	if b, ok := g.breakers[capability]; ok {
		return b
	}
	failures := g.cfg.Breaker.FailureThreshold
	if failures <= 0 {
		failures = 5
	}
	successes := g.cfg.Breaker.SuccessThreshold
	if successes <= 0 {
		successes = 2
	}
	openTimeout := g.cfg.Breaker.OpenTimeout.Std()
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	b := circuitbreaker.New(capability, failures, successes, openTimeout)
	g.breakers[capability] = b
	return b
}

// RunMaintenance sweeps idle rate limiter state until ctx ends. Call it in
// a goroutine next to the HTTP server.
func (g *Gateway) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.limiter.Sweep()
		}
	}
}

// Close waits for pending log writes and releases the cache stores.
func (g *Gateway) Close() error {
	g.logWG.Wait()
	var first error
	for _, s := range []cache.Store{g.credentials, g.responses} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RouteTable exposes the resolved route table for the control API.
func (g *Gateway) RouteTable() []routing.Entry {
	return g.routes.Entries()
}

// Snapshot reports runtime state for the control API.
func (g *Gateway) Snapshot() admin.Snapshot {
	snap := admin.Snapshot{
		UptimeSeconds:       int64(time.Since(g.started).Seconds()),
		ActiveRateLimitKeys: g.limiter.Len(),
	}
	if g.credentials != nil {
		snap.CredentialCacheEntries = g.credentials.Len()
	}
	if g.responses != nil {
		snap.ResponseCacheEntries = g.responses.Len()
	}
	names := g.registry.List()
	snap.Capabilities = make([]admin.CapabilityStatus, 0, len(names))
	for _, name := range names {
		c, _ := g.registry.Get(name)
		snap.Capabilities = append(snap.Capabilities, admin.CapabilityStatus{
			Name:    name,
			BaseURL: c.BaseURL(),
			Breaker: g.breakerFor(name).State().String(),
		})
	}
	return snap
}

// RevokeCredential drops an end-user credential from the verification
// cache.
func (g *Gateway) RevokeCredential(ctx context.Context, credential string) error {
	return g.auth.Revoke(ctx, credential)
}

// clientKey identifies the caller for rate limiting: the remote IP, after
// the RealIP middleware has resolved any forwarding headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
