// Package store provides generic in-memory storage with TTL support.
package store

import (
	"sync"
	"time"
)

// Entry wraps a value with expiration metadata
type Entry[T any] struct {
	Value     T
	ExpiresAt time.Time
}

// TTLStore is a generic in-memory store with TTL support and automatic cleanup.
type TTLStore[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]*Entry[V]
	stopCh   chan struct{}
	stopOnce sync.Once
	interval time.Duration
	onEvict  func(key K, value V)

	// now is replaceable in tests
	now func() time.Time
}

// NewTTLStore creates a new TTL store with the specified cleanup interval.
// The cleanup goroutine runs every cleanupInterval to remove expired entries.
func NewTTLStore[K comparable, V any](cleanupInterval time.Duration) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items:    make(map[K]*Entry[V]),
		stopCh:   make(chan struct{}),
		interval: cleanupInterval,
		now:      time.Now,
	}
	go s.cleanupLoop()
	return s
}

// SetOnEvict sets the callback called when items are evicted during cleanup
// (not on manual Delete).
func (s *TTLStore[K, V]) SetOnEvict(fn func(key K, value V)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Set stores a value with the given TTL
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &Entry[V]{
		Value:     value,
		ExpiresAt: s.now().Add(ttl),
	}
}

// Get retrieves a value by key. Returns the value and true if found and not expired.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.items[key]
	if !exists || s.now().After(entry.ExpiresAt) {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// GetOrSet returns the value for key if present and fresh; otherwise it
// stores the value produced by create with the given TTL and returns it.
// Each Get or create refreshes the entry's expiration.
func (s *TTLStore[K, V]) GetOrSet(key K, ttl time.Duration, create func() V) V {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.items[key]
	if exists && !s.now().After(entry.ExpiresAt) {
		entry.ExpiresAt = s.now().Add(ttl)
		return entry.Value
	}

	value := create()
	s.items[key] = &Entry[V]{
		Value:     value,
		ExpiresAt: s.now().Add(ttl),
	}
	return value
}

// Delete removes a key from the store
func (s *TTLStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; exists {
		delete(s.items, key)
		return true
	}
	return false
}

// Keys returns all non-expired keys
func (s *TTLStore[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]K, 0, len(s.items))
	for k, entry := range s.items {
		if !s.now().After(entry.ExpiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of non-expired entries
func (s *TTLStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, entry := range s.items {
		if !s.now().After(entry.ExpiresAt) {
			n++
		}
	}
	return n
}

// Close stops the cleanup goroutine
func (s *TTLStore[K, V]) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *TTLStore[K, V]) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *TTLStore[K, V]) cleanup() {
	s.mu.Lock()
	type evicted struct {
		key   K
		value V
	}
	var gone []evicted
	for k, entry := range s.items {
		if s.now().After(entry.ExpiresAt) {
			if s.onEvict != nil {
				gone = append(gone, evicted{key: k, value: entry.Value})
			}
			delete(s.items, k)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	for _, e := range gone {
		onEvict(e.key, e.value)
	}
}
