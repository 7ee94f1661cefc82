// Package fallback walks the ordered FallbackRule chain from a primary model,
// re-running circuit-breaker admission and adapter resolution for each candidate,
// visiting each model at most once per request.
package fallback

import (
	"fmt"
	"sort"

	"github.com/lowart/gateway/internal/domain"
)

// Router constructs per-request Attempts over a ModelRegistry, CircuitBreaker,
// and FallbackRuleRepository.
type Router struct {
	registry domain.ModelRegistry
	breaker  domain.CircuitBreaker
	rules    domain.FallbackRuleRepository
}

// New constructs a Router.
func New(registry domain.ModelRegistry, breaker domain.CircuitBreaker, rules domain.FallbackRuleRepository) *Router {
	return &Router{registry: registry, breaker: breaker, rules: rules}
}

// Begin starts a new fallback Attempt rooted at primaryModel.
func (r *Router) Begin(primaryModel string) *Attempt {
	return &Attempt{
		router:  r,
		visited: make(map[string]bool),
		queue:   []string{primaryModel},
	}
}

// Attempt tracks the in-progress fallback walk for a single inbound request.
type Attempt struct {
	router  *Router
	visited map[string]bool
	queue   []string
}

// Candidate is one model this Attempt is currently trying.
type Candidate struct {
	ModelID        string
	Adapter        domain.Adapter
	RequestScript  *string
	ResponseScript *string
}

// Next advances to the next breaker-admitted, resolvable candidate, skipping
// already-visited and currently-gated models. It returns domain.ErrAllBackendsExhausted
// once the chain is drained.
func (a *Attempt) Next(ctx domain.Context) (Candidate, error) {
	for len(a.queue) > 0 {
		modelID := a.queue[0]
		a.queue = a.queue[1:]

		if a.visited[modelID] {
			continue
		}
		a.visited[modelID] = true

		if !a.router.breaker.ShouldAttempt(modelID) {
			a.enqueueFallbacks(ctx, modelID)
			continue
		}

		adapter, reqScript, resScript, err := a.router.registry.Resolve(ctx, modelID)
		if err != nil {
			a.enqueueFallbacks(ctx, modelID)
			continue
		}

		return Candidate{ModelID: modelID, Adapter: adapter, RequestScript: reqScript, ResponseScript: resScript}, nil
	}
	return Candidate{}, fmt.Errorf("op=fallback.Next: %w", domain.ErrAllBackendsExhausted)
}

// MarkFailed reports candidate's call as a retryable failure, feeding its
// configured fallback models into the attempt's queue for the next Next call.
func (a *Attempt) MarkFailed(ctx domain.Context, modelID string) {
	a.router.breaker.RecordFailure(modelID)
	a.enqueueFallbacks(ctx, modelID)
}

// MarkSucceeded reports candidate's call as successful.
func (a *Attempt) MarkSucceeded(modelID string) {
	a.router.breaker.RecordSuccess(modelID)
}

func (a *Attempt) enqueueFallbacks(ctx domain.Context, modelID string) {
	rules, err := a.router.rules.ListByPrimary(ctx, modelID)
	if err != nil {
		return
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	for _, rule := range rules {
		if !a.visited[rule.FallbackModel] {
			a.queue = append(a.queue, rule.FallbackModel)
		}
	}
}
