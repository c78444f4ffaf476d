package admin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates an operator against the gateway control API. These
// keys are unrelated to the end-user credentials the gateway proxies; they
// only guard the /admin surface.
type APIKey struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
	Active    bool       `json:"active"`
}

func newKeyString() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return "cgw-" + hex.EncodeToString(raw), nil
}

func maskKey(k APIKey) *APIKey {
	if len(k.Key) > 8 {
		k.Key = k.Key[:8] + "..."
	}
	return &k
}

// KeyStore is the in-memory key store.
type KeyStore struct {
	mu    sync.RWMutex
	byID  map[string]*APIKey
	byKey map[string]string // key string -> ID
}

// NewKeyStore creates an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		byID:  make(map[string]*APIKey),
		byKey: make(map[string]string),
	}
}

// Create generates a new key with the given name, scopes, and optional
// expiration. Keys default to the admin scope.
func (s *KeyStore) Create(name string, scopes []string, expiresAt *time.Time) (*APIKey, error) {
	key, err := newKeyString()
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeAdmin}
	}

	apiKey := &APIKey{
		ID:        uuid.NewString(),
		Key:       key,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		Active:    true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[apiKey.ID] = apiKey
	s.byKey[key] = apiKey.ID
	return apiKey, nil
}

// Get retrieves a key by ID.
func (s *KeyStore) Get(id string) (*APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return maskKey(*k), true
}

// List returns all keys with the Key field masked.
func (s *KeyStore) List() []*APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*APIKey, 0, len(s.byID))
	for _, k := range s.byID {
		keys = append(keys, maskKey(*k))
	}
	return keys
}

// Revoke marks a key as revoked and inactive.
func (s *KeyStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("key not found: %s", id)
	}
	now := time.Now().UTC()
	k.RevokedAt = &now
	k.Active = false
	return nil
}

// Update changes the name and scopes of a key.
func (s *KeyStore) Update(id string, name string, scopes []string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", id)
	}
	if name != "" {
		k.Name = name
	}
	if len(scopes) > 0 {
		k.Scopes = scopes
	}
	return maskKey(*k), nil
}

// Delete removes a key entirely.
func (s *KeyStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("key not found: %s", id)
	}
	delete(s.byKey, k.Key)
	delete(s.byID, id)
	return nil
}

// RotateKey replaces the key string of an existing key. The new string is
// returned unmasked exactly once.
func (s *KeyStore) RotateKey(id string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", id)
	}
	newKey, err := newKeyString()
	if err != nil {
		return nil, err
	}
	delete(s.byKey, k.Key)
	k.Key = newKey
	s.byKey[newKey] = id
	now := time.Now().UTC()
	k.RotatedAt = &now

	clone := *k
	return &clone, nil
}

// ValidateKey looks up a key by its full string and returns it if active
// and unexpired.
func (s *KeyStore) ValidateKey(key string) (*APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	k := s.byID[id]
	if !k.Active || k.RevokedAt != nil {
		return nil, false
	}
	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return nil, false
	}
	clone := *k
	return &clone, true
}
