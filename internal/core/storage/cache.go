package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity is the default number of tenants to cache.
const DefaultCacheCapacity = 1000

// DefaultCacheTTL bounds how stale a cached tenant (anonymize/opt-in flags) may be.
const DefaultCacheTTL = 30 * time.Second

// tenantLRU is a thread-safe LRU cache of tenants keyed by token.
type tenantLRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	entries  map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	token     string
	tenant    Tenant
	expiresAt time.Time
}

func newTenantLRU(capacity int, ttl time.Duration) *tenantLRU {
	return &tenantLRU{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// get returns a copy of the cached tenant, dropping it if expired.
func (c *tenantLRU) get(token string) (Tenant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[token]
	if !ok {
		return Tenant{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		delete(c.entries, token)
		c.order.Remove(elem)
		return Tenant{}, false
	}

	c.order.MoveToFront(elem)
	return entry.tenant, true
}

// put adds a tenant, evicting the least recently used entry if full.
func (c *tenantLRU) put(t Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if elem, ok := c.entries[t.Token]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.tenant = t
		entry.expiresAt = expiresAt
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.entries, oldest.Value.(*cacheEntry).token)
			c.order.Remove(oldest)
		}
	}

	c.entries[t.Token] = c.order.PushFront(&cacheEntry{token: t.Token, tenant: t, expiresAt: expiresAt})
}

// CachedStore fronts a TenantStore with a token cache. Concurrent misses for
// the same token share one backend lookup. Personal key lookups are not cached.
type CachedStore struct {
	next  TenantStore
	cache *tenantLRU
	group singleflight.Group
}

// NewCachedStore wraps next. Non-positive capacity or ttl fall back to defaults.
func NewCachedStore(next TenantStore, capacity int, ttl time.Duration) *CachedStore {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		next:  next,
		cache: newTenantLRU(capacity, ttl),
	}
}

func (s *CachedStore) TenantByToken(ctx context.Context, token string) (*Tenant, error) {
	if t, ok := s.cache.get(token); ok {
		return &t, nil
	}

	v, err, _ := s.group.Do(token, func() (interface{}, error) {
		t, err := s.next.TenantByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		s.cache.put(*t)
		return *t, nil
	})
	if err != nil {
		return nil, err
	}

	t := v.(Tenant)
	return &t, nil
}

func (s *CachedStore) PrincipalByPersonalKey(ctx context.Context, key string) (*Principal, error) {
	return s.next.PrincipalByPersonalKey(ctx, key)
}

func (s *CachedStore) TenantsForPrincipal(ctx context.Context, principalID int64) ([]Tenant, error) {
	return s.next.TenantsForPrincipal(ctx, principalID)
}
