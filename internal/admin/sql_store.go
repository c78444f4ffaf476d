package admin

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists API keys in SQL backends (SQLite or Postgres).
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore creates a SQLite-backed key store. dsn can be a file path
// or a full SQLite DSN; empty means the default database file.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "cartgw-keys.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore creates a Postgres-backed key store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}

	var ddl string
	switch s.dialect {
	case dialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	key TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	scopes TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ NULL,
	expires_at TIMESTAMPTZ NULL,
	rotated_at TIMESTAMPTZ NULL,
	active BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_key ON api_keys(key);`
	default:
		ddl = `
CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	key TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	scopes TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	revoked_at DATETIME NULL,
	expires_at DATETIME NULL,
	rotated_at DATETIME NULL,
	active BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_key ON api_keys(key);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s store schema: %w", s.dialect, err)
	}
	return nil
}

// placeholder renders the n-th bind parameter for the active dialect.
func (s *SQLStore) placeholder(n int) string {
	if s.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) binds(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s.placeholder(i + 1)
	}
	return out
}

// Create generates and persists a new key.
func (s *SQLStore) Create(name string, scopes []string, expiresAt *time.Time) (*APIKey, error) {
	key, err := newKeyString()
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeAdmin}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("encoding scopes: %w", err)
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

	b := s.binds(7)
	query := fmt.Sprintf(`INSERT INTO api_keys (id, key, name, scopes, created_at, expires_at, active)
VALUES (%s, %s, %s, %s, %s, %s, %s)`, b[0], b[1], b[2], b[3], b[4], b[5], b[6])
	if _, err := s.db.Exec(query, apiKey.ID, apiKey.Key, apiKey.Name, string(scopesJSON), apiKey.CreatedAt, expiresAt, apiKey.Active); err != nil {
		return nil, fmt.Errorf("insert key: %w", err)
	}
	return apiKey, nil
}

const keyColumns = "id, key, name, scopes, created_at, revoked_at, expires_at, rotated_at, active"

func (s *SQLStore) scanKey(row interface{ Scan(...interface{}) error }) (*APIKey, error) {
	var (
		k          APIKey
		scopesJSON string
		revoked    sql.NullTime
		expires    sql.NullTime
		rotated    sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.Key, &k.Name, &scopesJSON, &k.CreatedAt, &revoked, &expires, &rotated, &k.Active); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopesJSON), &k.Scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	if revoked.Valid {
		k.RevokedAt = &revoked.Time
	}
	if expires.Valid {
		k.ExpiresAt = &expires.Time
	}
	if rotated.Valid {
		k.RotatedAt = &rotated.Time
	}
	return &k, nil
}

// Get retrieves a key by ID with the key string masked.
func (s *SQLStore) Get(id string) (*APIKey, bool) {
	query := fmt.Sprintf("SELECT %s FROM api_keys WHERE id = %s", keyColumns, s.placeholder(1))
	k, err := s.scanKey(s.db.QueryRow(query, id))
	if err != nil {
		return nil, false
	}
	return maskKey(*k), true
}

// List returns all keys with key strings masked.
func (s *SQLStore) List() []*APIKey {
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM api_keys ORDER BY created_at DESC", keyColumns))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := s.scanKey(rows)
		if err != nil {
			continue
		}
		keys = append(keys, maskKey(*k))
	}
	return keys
}

// Revoke marks a key as revoked and inactive.
func (s *SQLStore) Revoke(id string) error {
	b := s.binds(2)
	query := fmt.Sprintf("UPDATE api_keys SET revoked_at = %s, active = FALSE WHERE id = %s", b[0], b[1])
	res, err := s.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

// Update changes the name and scopes of a key.
func (s *SQLStore) Update(id string, name string, scopes []string) (*APIKey, error) {
	existing, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("key not found: %s", id)
	}
	if name == "" {
		name = existing.Name
	}
	if len(scopes) == 0 {
		scopes = existing.Scopes
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("encoding scopes: %w", err)
	}

	b := s.binds(3)
	query := fmt.Sprintf("UPDATE api_keys SET name = %s, scopes = %s WHERE id = %s", b[0], b[1], b[2])
	if _, err := s.db.Exec(query, name, string(scopesJSON), id); err != nil {
		return nil, fmt.Errorf("update key: %w", err)
	}
	updated, _ := s.Get(id)
	return updated, nil
}

// Delete removes a key entirely.
func (s *SQLStore) Delete(id string) error {
	query := fmt.Sprintf("DELETE FROM api_keys WHERE id = %s", s.placeholder(1))
	res, err := s.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

// RotateKey replaces the key string of an existing key.
func (s *SQLStore) RotateKey(id string) (*APIKey, error) {
	newKey, err := newKeyString()
	if err != nil {
		return nil, err
	}
	b := s.binds(3)
	query := fmt.Sprintf("UPDATE api_keys SET key = %s, rotated_at = %s WHERE id = %s", b[0], b[1], b[2])
	res, err := s.db.Exec(query, newKey, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("rotate key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("key not found: %s", id)
	}

	query = fmt.Sprintf("SELECT %s FROM api_keys WHERE id = %s", keyColumns, s.placeholder(1))
	k, err := s.scanKey(s.db.QueryRow(query, id))
	if err != nil {
		return nil, fmt.Errorf("load rotated key: %w", err)
	}
	return k, nil
}

// ValidateKey looks up a key by its full string and returns it if active
// and unexpired.
func (s *SQLStore) ValidateKey(key string) (*APIKey, bool) {
	query := fmt.Sprintf("SELECT %s FROM api_keys WHERE key = %s", keyColumns, s.placeholder(1))
	k, err := s.scanKey(s.db.QueryRow(query, key))
	if err != nil {
		return nil, false
	}
	if !k.Active || k.RevokedAt != nil {
		return nil, false
	}
	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return nil, false
	}
	return k, true
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
