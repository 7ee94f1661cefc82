// Package authcache fronts CredentialRepository.ResolveByOpaqueKey with a
// capacity-bounded, TTL-expiring cache, generalized from the model registry's
// eviction idiom to cache (Credential, Principal) pairs instead of adapters.
package authcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/lowart/gateway/internal/domain"
)

type cachedEntry struct {
	credential  domain.Credential
	principal   domain.Principal
	insertedAt  time.Time
	accessCount int
}

// Cache implements domain.CredentialCache.
type Cache struct {
	mu    sync.Mutex
	cache map[string]*cachedEntry

	repo domain.CredentialRepository

	capacity int
	ttl      time.Duration
}

// Config bundles the tuning knobs Cache needs.
type Config struct {
	Capacity int
	TTL      time.Duration
}

// New constructs a Cache backed by repo.
func New(repo domain.CredentialRepository, cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Cache{
		cache:    make(map[string]*cachedEntry),
		repo:     repo,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
	}
}

// Resolve returns the Credential and Principal bound to opaqueKey, consulting the
// cache before the repository. A revoked credential is never cached.
func (c *Cache) Resolve(ctx domain.Context, opaqueKey string) (domain.Credential, domain.Principal, error) {
	c.mu.Lock()
	if e, ok := c.cache[opaqueKey]; ok {
		if time.Since(e.insertedAt) <= c.ttl {
			e.accessCount++
			c.mu.Unlock()
			return e.credential, e.principal, nil
		}
		delete(c.cache, opaqueKey)
	}
	c.mu.Unlock()

	cred, principal, err := c.repo.ResolveByOpaqueKey(ctx, opaqueKey)
	if err != nil {
		return domain.Credential{}, domain.Principal{}, fmt.Errorf("op=authcache.Resolve: %w", err)
	}

	if cred.Status != domain.CredentialActive || principal.Status != domain.PrincipalActive {
		return cred, principal, fmt.Errorf("op=authcache.Resolve: %w", domain.ErrAuthFailure)
	}

	c.mu.Lock()
	if len(c.cache) >= c.capacity {
		c.evictLeastUsedLocked()
	}
	c.cache[opaqueKey] = &cachedEntry{
		credential:  cred,
		principal:   principal,
		insertedAt:  time.Now(),
		accessCount: 1,
	}
	c.mu.Unlock()

	return cred, principal, nil
}

// Invalidate evicts opaqueKey, forcing the next Resolve to re-read the
// CredentialRepository. Callers invalidate after revoking a credential.
func (c *Cache) Invalidate(opaqueKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, opaqueKey)
}

// evictLeastUsedLocked removes the entry with the lowest access count, tie-broken
// by oldest insertion. Caller must hold c.mu.
func (c *Cache) evictLeastUsedLocked() {
	var victim string
	var victimCount int
	var victimTime time.Time
	first := true
	for key, e := range c.cache {
		if first || e.accessCount < victimCount || (e.accessCount == victimCount && e.insertedAt.Before(victimTime)) {
			victim, victimCount, victimTime = key, e.accessCount, e.insertedAt
			first = false
		}
	}
	if victim != "" {
		delete(c.cache, victim)
	}
}

var _ domain.CredentialCache = (*Cache)(nil)
