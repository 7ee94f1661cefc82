// Package registry resolves a logical model id to a vendor Adapter, fronted by a
// capacity-bounded, TTL-expiring cache, generalized from the teacher's model-response
// cache eviction idiom to cache whole adapter bindings instead.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/lowart/gateway/internal/adapter/ai/vendor"
	"github.com/lowart/gateway/internal/adapter/crypto"
	"github.com/lowart/gateway/internal/domain"
)

type cachedBinding struct {
	adapter        domain.Adapter
	requestScript  *string
	responseScript *string
	insertedAt     time.Time
	accessCount    int
}

// Registry implements domain.ModelRegistry.
type Registry struct {
	mu    sync.Mutex
	cache map[string]*cachedBinding

	repo    domain.ModelConfigRepository
	masterKey string

	capacity int
	ttl      time.Duration

	adapterTimeout        time.Duration
	backoffTuning         vendor.BackoffTuning
	imageWorkflowPoll     time.Duration
	imageWorkflowAttempts int
}

// Config bundles the tuning knobs Registry needs to construct vendor adapters.
type Config struct {
	Capacity              int
	TTL                   time.Duration
	MasterKey             string
	AdapterTimeout        time.Duration
	Backoff               vendor.BackoffTuning
	ImageWorkflowPoll     time.Duration
	ImageWorkflowAttempts int
}

// New constructs a Registry backed by repo.
func New(repo domain.ModelConfigRepository, cfg Config) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Registry{
		cache:                 make(map[string]*cachedBinding),
		repo:                  repo,
		masterKey:             cfg.MasterKey,
		capacity:              cfg.Capacity,
		ttl:                   cfg.TTL,
		adapterTimeout:        cfg.AdapterTimeout,
		backoffTuning:         cfg.Backoff,
		imageWorkflowPoll:     cfg.ImageWorkflowPoll,
		imageWorkflowAttempts: cfg.ImageWorkflowAttempts,
	}
}

// Resolve returns the Adapter bound to logicalModelID, along with its optional
// request/response transform scripts, consulting the cache before the repository.
func (r *Registry) Resolve(ctx domain.Context, logicalModelID string) (domain.Adapter, *string, *string, error) {
	r.mu.Lock()
	if b, ok := r.cache[logicalModelID]; ok {
		if time.Since(b.insertedAt) <= r.ttl {
			b.accessCount++
			r.mu.Unlock()
			return b.adapter, b.requestScript, b.responseScript, nil
		}
		delete(r.cache, logicalModelID)
	}
	r.mu.Unlock()

	cfg, err := r.repo.GetActiveByLogicalID(ctx, logicalModelID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("op=registry.Resolve: %w", err)
	}

	apiKey := crypto.Decrypt(r.masterKey, cfg.OpaqueAPIKey)

	var adapter domain.Adapter
	switch cfg.Vendor {
	case domain.VendorOpenAI:
		adapter = vendor.NewOpenAI(cfg.LogicalModelID, cfg.BaseURL, apiKey, r.adapterTimeout, r.backoffTuning)
	case domain.VendorAnthropic:
		adapter = vendor.NewAnthropic(cfg.LogicalModelID, cfg.Title, cfg.BaseURL, apiKey, r.adapterTimeout, r.backoffTuning)
	case domain.VendorImageWorkflow:
		adapter = vendor.NewImageWorkflow(cfg.LogicalModelID, cfg.BaseURL, r.adapterTimeout, r.backoffTuning, r.imageWorkflowPoll, r.imageWorkflowAttempts)
	case domain.VendorMock:
		adapter = vendor.NewMock(cfg.LogicalModelID)
	case domain.VendorMockFail:
		adapter = vendor.NewMockFail(cfg.LogicalModelID)
	default:
		return nil, nil, nil, fmt.Errorf("op=registry.Resolve: %w: unknown vendor %q", domain.ErrModelNotFound, cfg.Vendor)
	}

	r.mu.Lock()
	if len(r.cache) >= r.capacity {
		r.evictLeastUsedLocked()
	}
	r.cache[logicalModelID] = &cachedBinding{
		adapter:        adapter,
		requestScript:  cfg.RequestScript,
		responseScript: cfg.ResponseScript,
		insertedAt:     time.Now(),
		accessCount:    1,
	}
	r.mu.Unlock()

	return adapter, cfg.RequestScript, cfg.ResponseScript, nil
}

// evictLeastUsedLocked removes the entry with the lowest access count, tie-broken
// by oldest insertion. Caller must hold r.mu.
func (r *Registry) evictLeastUsedLocked() {
	var victim string
	var victimCount int
	var victimTime time.Time
	first := true
	for id, b := range r.cache {
		if first || b.accessCount < victimCount || (b.accessCount == victimCount && b.insertedAt.Before(victimTime)) {
			victim, victimCount, victimTime = id, b.accessCount, b.insertedAt
			first = false
		}
	}
	if victim != "" {
		delete(r.cache, victim)
	}
}

// Clear empties the adapter cache, forcing the next Resolve to re-read the
// ModelConfigRepository. The admin model handlers do not call it, so a cached
// binding stays in use after a ModelConfig edit until its TTL expires or
// Clear is called.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*cachedBinding)
}

var _ domain.ModelRegistry = (*Registry)(nil)
