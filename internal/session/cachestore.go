package session

import (
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// CacheStore persists validation cache entries keyed by session id. The
// default implementation is in-process only; internal/session/rediscache.go
// provides an opt-in Redis-backed alternative.
type CacheStore interface {
	Get(sessionID string) (*CacheEntry, bool)
	Set(sessionID string, entry *CacheEntry)
	Delete(sessionID string)
	Len() int
	EvictOldest(keepUnder int)
}

// MemoryCacheStore wraps go-cache for TTL expiry and adds manual
// LRU-by-ValidatedAt eviction once the tracked session count exceeds a cap,
// since go-cache itself has no size bound.
type MemoryCacheStore struct {
	c  *cache.Cache
	mu sync.Mutex
}

// NewMemoryCacheStore builds a store whose entries expire after ttl.
func NewMemoryCacheStore(ttl time.Duration) *MemoryCacheStore {
	return &MemoryCacheStore{
		c: cache.New(ttl, ttl*2),
	}
}

func (s *MemoryCacheStore) Get(sessionID string) (*CacheEntry, bool) {
	v, ok := s.c.Get(sessionID)
	if !ok {
		return nil, false
	}
	entry, ok := v.(*CacheEntry)
	return entry, ok
}

func (s *MemoryCacheStore) Set(sessionID string, entry *CacheEntry) {
	s.c.SetDefault(sessionID, entry)
}

func (s *MemoryCacheStore) Delete(sessionID string) {
	s.c.Delete(sessionID)
}

func (s *MemoryCacheStore) Len() int {
	return s.c.ItemCount()
}

// EvictOldest removes the least-recently-validated entries until the store
// holds at most keepUnder sessions.
func (s *MemoryCacheStore) EvictOldest(keepUnder int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.c.Items()
	if len(items) <= keepUnder {
		return
	}

	type keyed struct {
		id          string
		validatedAt time.Time
	}
	all := make([]keyed, 0, len(items))
	for id, item := range items {
		if entry, ok := item.Object.(*CacheEntry); ok {
			all = append(all, keyed{id: id, validatedAt: entry.ValidatedAt})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].validatedAt.Before(all[j].validatedAt) })

	toEvict := len(all) - keepUnder
	for i := 0; i < toEvict && i < len(all); i++ {
		s.c.Delete(all[i].id)
	}
}
