package admin

import "time"

// Store is the API key storage backend. KeyStore keeps keys in memory;
// SQLStore persists them in SQLite or Postgres.
type Store interface {
	Create(name string, scopes []string, expiresAt *time.Time) (*APIKey, error)
	Get(id string) (*APIKey, bool)
	List() []*APIKey
	Revoke(id string) error
	Update(id string, name string, scopes []string) (*APIKey, error)
	Delete(id string) error
	RotateKey(id string) (*APIKey, error)
	ValidateKey(key string) (*APIKey, bool)
}
