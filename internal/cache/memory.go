package cache

import (
	"strings"
	"sync"
	"time"
)

const defaultMaxEntries = 4096

type memoryEntry struct {
	val     []byte
	expires time.Time
}

// memoryStore is the bounded in-process fallback. When full it sweeps
// expired entries first, then evicts the entry closest to expiry.
type memoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
}

func newMemoryStore(maxEntries int) *memoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &memoryStore{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
	}
}

func (s *memoryStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(s.entries, key)
		return nil, false
	}
	return e.val, true
}

func (s *memoryStore) set(key string, val []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictLocked()
	}
	s.entries[key] = memoryEntry{
		val:     append([]byte(nil), val...),
		expires: time.Now().Add(ttl),
	}
}

func (s *memoryStore) purgePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
}

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *memoryStore) evictLocked() {
	now := time.Now()
	for key, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) < s.maxEntries {
		return
	}

	var victim string
	var soonest time.Time
	for key, e := range s.entries {
		if victim == "" || e.expires.Before(soonest) {
			victim = key
			soonest = e.expires
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}
