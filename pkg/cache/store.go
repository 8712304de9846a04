// Package cache holds decoded remote state keyed by resource kind and address.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gagliardetto/solana-go"
)

// DefaultTTL is how long an entry is served before a fresh read is required.
const DefaultTTL = 30 * time.Second

// Entry is a cached value together with its capture time.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// Store is a TTL cache. An entry is valid while now-StoredAt < TTL; stale
// entries are never returned but stay in the map until overwritten, deleted
// or purged.
type Store[V any] struct {
	entries map[string]Entry[V]
	ttl     time.Duration
	clock   clock.Clock
	mu      sync.RWMutex
}

type Option func(*options)

type options struct {
	ttl   time.Duration
	clock clock.Clock
}

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock injects the time source, typically clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// New creates an empty store.
func New[V any](opts ...Option) *Store[V] {
	o := options{ttl: DefaultTTL, clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		entries: make(map[string]Entry[V]),
		ttl:     o.ttl,
		clock:   o.clock,
	}
}

// Get returns the value for key if it is still within TTL.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists || !s.fresh(entry) {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Put stores value under key, resetting its timestamp.
func (s *Store[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = Entry[V]{Value: value, StoredAt: s.clock.Now()}
}

func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// Purge drops stale entries and returns how many were removed.
func (s *Store[V]) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !s.fresh(entry) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, stale ones included.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Snapshot copies every entry that is still fresh.
func (s *Store[V]) Snapshot() map[string]Entry[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]Entry[V], len(s.entries))
	for k, v := range s.entries {
		if s.fresh(v) {
			result[k] = v
		}
	}
	return result
}

func (s *Store[V]) TTL() time.Duration { return s.ttl }

func (s *Store[V]) fresh(e Entry[V]) bool {
	return s.clock.Since(e.StoredAt) < s.ttl
}

// Kind names the resource a key refers to.
type Kind string

const (
	KindVault       Kind = "vault"
	KindUserProfile Kind = "profile"
)

// Key derives the cache key for a resource, e.g. "vault_<base58 address>".
func Key(kind Kind, address solana.PublicKey) string {
	return fmt.Sprintf("%s_%s", kind, address)
}
