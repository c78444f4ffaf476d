package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory is a thread-safe in-memory LRU store with per-entry TTL expiration.
type Memory struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	items      map[string]*list.Element
	evictList  *list.List
}

// NewMemory creates an in-memory store holding at most capacity entries.
// Entries stored without an explicit TTL expire after defaultTTL.
func NewMemory(capacity int, defaultTTL time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
	}
}

// Get returns the value for key, or ErrMiss if missing or expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, ErrMiss
	}

	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.removeElement(elem)
		return nil, ErrMiss
	}

	m.evictList.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value under key for ttl, evicting the oldest entry when full.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.evictList.MoveToFront(elem)
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	if m.evictList.Len() >= m.capacity {
		m.removeOldest()
	}

	elem := m.evictList.PushFront(&memoryEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	m.items[key] = elem
	return nil
}

// Delete removes an entry from the store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

func (m *Memory) removeOldest() {
	if elem := m.evictList.Back(); elem != nil {
		m.removeElement(elem)
	}
}

func (m *Memory) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	delete(m.items, elem.Value.(*memoryEntry).key)
}
