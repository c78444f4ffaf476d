// Package admin provides the gateway control API: API key management,
// route table and capability inspection, request log browsing, and
// end-user credential revocation. All routes are protected by bearer-token
// authentication via AuthMiddleware.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cartwheel-labs/edge-gateway/internal/requestlog"
	"github.com/cartwheel-labs/edge-gateway/internal/routing"
)

// CapabilityStatus is one backend domain as seen by the gateway.
type CapabilityStatus struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Breaker string `json:"breaker"`
}

// Snapshot is a point-in-time view of gateway runtime state.
type Snapshot struct {
	UptimeSeconds          int64              `json:"uptime_seconds"`
	ActiveRateLimitKeys    int                `json:"active_rate_limit_keys"`
	ResponseCacheEntries   int                `json:"response_cache_entries"`
	CredentialCacheEntries int                `json:"credential_cache_entries"`
	Capabilities           []CapabilityStatus `json:"capabilities"`
}

// GatewayController is the gateway surface the control API operates on.
type GatewayController interface {
	RouteTable() []routing.Entry
	Snapshot() Snapshot
	RevokeCredential(ctx context.Context, credential string) error
}

// Handlers holds dependencies for the control API.
type Handlers struct {
	Keys     Store
	Gateway  GatewayController
	Logs     requestlog.Reader
	LogAdmin requestlog.Maintainer
}

// Routes returns a chi.Router with all control endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	// Read-only endpoints (accessible with read-only or admin scope).
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeReadOnly, ScopeAdmin))
		r.Get("/dashboard", h.dashboard)
		r.Get("/keys", h.listKeys)
		r.Get("/keys/{id}", h.getKey)
		r.Get("/routes", h.listRoutes)
		r.Get("/stats", h.stats)
		r.Get("/logs", h.listLogs)
	})

	// Write endpoints (admin scope only).
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeAdmin))
		r.Post("/keys", h.createKey)
		r.Put("/keys/{id}", h.updateKey)
		r.Delete("/keys/{id}", h.deleteKey)
		r.Post("/keys/{id}/revoke", h.revokeKey)
		r.Post("/keys/{id}/rotate", h.rotateKey)
		r.Delete("/logs", h.purgeLogs)
		r.Post("/credentials/revoke", h.revokeCredential)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	keys := h.Keys.List()
	activeKeys := 0
	expiredKeys := 0
	now := time.Now().UTC()
	for _, key := range keys {
		if key.Active {
			activeKeys++
		}
		if key.ExpiresAt != nil && key.ExpiresAt.Before(now) {
			expiredKeys++
		}
	}

	requestLogs := map[string]interface{}{
		"enabled": false,
		"total":   0,
	}
	if h.Logs != nil {
		result, err := h.Logs.List(r.Context(), requestlog.Query{Limit: 1})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load dashboard summary")
			return
		}
		requestLogs["enabled"] = true
		requestLogs["total"] = result.Total
	}

	snap := h.Gateway.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"capabilities": snap.Capabilities,
		"keys": map[string]interface{}{
			"total":   len(keys),
			"active":  activeKeys,
			"expired": expiredKeys,
		},
		"request_logs": requestLogs,
		"uptime_seconds": snap.UptimeSeconds,
	})
}

func (h *Handlers) listRoutes(w http.ResponseWriter, _ *http.Request) {
	type route struct {
		Prefix       string `json:"prefix"`
		Capability   string `json:"capability"`
		RewriteBase  string `json:"rewrite_base,omitempty"`
		RequiresAuth bool   `json:"requires_auth"`
		RequiresRole string `json:"requires_role,omitempty"`
		CacheTTL     string `json:"cache_ttl,omitempty"`
	}
	entries := h.Gateway.RouteTable()
	routes := make([]route, 0, len(entries))
	for _, e := range entries {
		r := route{
			Prefix:       e.Prefix,
			Capability:   e.Capability,
			RewriteBase:  e.RewriteBase,
			RequiresAuth: e.RequiresAuth,
			RequiresRole: e.RequiresRole,
		}
		if e.CacheTTL > 0 {
			r.CacheTTL = e.CacheTTL.String()
		}
		routes = append(routes, r)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routes": routes})
}

func (h *Handlers) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Gateway.Snapshot())
}

func (h *Handlers) createKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string   `json:"name"`
		Scopes    []string `json:"scopes"`
		ExpiresAt string   `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	var expiresAt *time.Time
	if body.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid expires_at: must be RFC3339 format")
			return
		}
		expiresAt = &t
	}

	key, err := h.Keys.Create(body.Name, body.Scopes, expiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *Handlers) listKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Keys.List())
}

func (h *Handlers) getKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.Keys.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "key not found")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *Handlers) updateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	key, err := h.Keys.Update(chi.URLParam(r, "id"), body.Name, body.Scopes)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *Handlers) deleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.Keys.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.Keys.Revoke(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handlers) rotateKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.Keys.RotateKey(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "not_enabled", "request log storage is not enabled")
		return
	}

	q := requestlog.Query{
		Capability: r.URL.Query().Get("capability"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 100 || parsed > 599 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid status: must be an HTTP status code")
			return
		}
		q.Status = parsed
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit: must be a positive integer")
			return
		}
		q.Limit = parsed
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid offset: must be a non-negative integer")
			return
		}
		q.Offset = parsed
	}

	result, err := h.Logs.List(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list request logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) purgeLogs(w http.ResponseWriter, r *http.Request) {
	if h.LogAdmin == nil {
		writeError(w, http.StatusNotImplemented, "not_enabled", "request log storage is not enabled")
		return
	}

	beforeRaw := r.URL.Query().Get("before")
	if beforeRaw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "before is required and must be RFC3339 format")
		return
	}
	before, err := time.Parse(time.RFC3339, beforeRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid before: must be RFC3339 format")
		return
	}

	deleted, err := h.LogAdmin.Purge(r.Context(), before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to purge request logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"before":  beforeRaw,
	})
}

// revokeCredential drops an end-user credential from the gateway's
// verification cache, forcing the next request that presents it to
// re-verify. Used when a token must stop working before its natural expiry.
func (h *Handlers) revokeCredential(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Credential == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "credential is required")
		return
	}
	if err := h.Gateway.RevokeCredential(r.Context(), body.Credential); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to revoke credential")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
