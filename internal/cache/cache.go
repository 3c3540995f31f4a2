// Package cache provides in-memory read-through caches with per-store TTLs
// and prefix invalidation. Expired entries are reaped by a background
// janitor; Get also refuses entries past their deadline, so a slow janitor
// can never serve stale financial data.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Store is a single TTL cache instance.
type Store struct {
	name string
	ttl  time.Duration
	log  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]entry
	hits    uint64
	misses  uint64
}

// New creates a cache store with a default TTL for all entries.
func New(name string, ttl time.Duration, log zerolog.Logger) *Store {
	return &Store{
		name:    name,
		ttl:     ttl,
		log:     log.With().Str("cache", name).Logger(),
		entries: make(map[string]entry),
	}
}

// Get returns the cached value or a miss. An entry past its deadline counts
// as a miss even if the janitor has not reaped it yet.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		if ok {
			delete(s.entries, key)
		}
		s.misses++
		return nil, false
	}
	s.hits++
	return e.value, true
}

// Set stores a value with the store's default TTL.
func (s *Store) Set(key string, value interface{}) {
	s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (s *Store) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// Delete removes a single key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// DeletePrefix removes every key beginning with prefix and returns how many
// were dropped. Write-path invalidation uses this so suffixed variants
// (filtered list views) are cleared along with the base key.
func (s *Store) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug().Str("prefix", prefix).Int("removed", removed).Msg("Cache entries invalidated")
	}
	return removed
}

// Sweep removes expired entries and returns how many were reaped.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
			reaped++
		}
	}
	return reaped
}

// Len returns the number of live entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats reports cache effectiveness for the diagnostics endpoint.
type Stats struct {
	Name   string `json:"name"`
	Keys   int    `json:"keys"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Stats returns a snapshot of hit/miss counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Name:   s.name,
		Keys:   len(s.entries),
		Hits:   s.hits,
		Misses: s.misses,
	}
}
