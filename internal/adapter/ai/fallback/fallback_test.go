package fallback

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowart/gateway/internal/adapter/ai/circuitbreaker"
	"github.com/lowart/gateway/internal/domain"
)

type fakeAdapter struct{ id string }

func (f *fakeAdapter) ID() string { return f.id }
func (f *fakeAdapter) Complete(domain.Context, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}
func (f *fakeAdapter) Stream(domain.Context, json.RawMessage) (<-chan domain.StreamItem, error) {
	return nil, nil
}

type fakeRegistry struct {
	known map[string]bool
}

func (f *fakeRegistry) Resolve(_ domain.Context, modelID string) (domain.Adapter, *string, *string, error) {
	if !f.known[modelID] {
		return nil, nil, nil, domain.ErrModelNotFound
	}
	return &fakeAdapter{id: modelID}, nil, nil, nil
}
func (f *fakeRegistry) Clear() {}

type fakeRuleRepo struct {
	rules map[string][]domain.FallbackRule
}

func (f *fakeRuleRepo) ListByPrimary(_ domain.Context, primary string) ([]domain.FallbackRule, error) {
	return f.rules[primary], nil
}
func (f *fakeRuleRepo) Upsert(domain.Context, domain.FallbackRule) error { return nil }

func TestAttempt_SucceedsOnPrimaryWhenHealthy(t *testing.T) {
	registry := &fakeRegistry{known: map[string]bool{"primary": true}}
	breaker := circuitbreaker.New(5, 0)
	rules := &fakeRuleRepo{}
	router := New(registry, breaker, rules)

	cand, err := router.Begin("primary").Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary", cand.ModelID)
}

func TestAttempt_FallsBackWhenPrimaryCircuitOpen(t *testing.T) {
	registry := &fakeRegistry{known: map[string]bool{"primary": true, "secondary": true}}
	breaker := circuitbreaker.New(1, 0)
	breaker.RecordFailure("primary") // opens immediately at threshold 1
	rules := &fakeRuleRepo{rules: map[string][]domain.FallbackRule{
		"primary": {{PrimaryModel: "primary", FallbackModel: "secondary", Priority: 1}},
	}}
	router := New(registry, breaker, rules)

	cand, err := router.Begin("primary").Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secondary", cand.ModelID)
}

func TestAttempt_SkipsUnresolvableModels(t *testing.T) {
	registry := &fakeRegistry{known: map[string]bool{"secondary": true}}
	breaker := circuitbreaker.New(5, 0)
	rules := &fakeRuleRepo{rules: map[string][]domain.FallbackRule{
		"primary": {{PrimaryModel: "primary", FallbackModel: "secondary", Priority: 1}},
	}}
	router := New(registry, breaker, rules)

	attempt := router.Begin("primary")
	cand, err := attempt.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secondary", cand.ModelID)
}

func TestAttempt_ExhaustedWhenChainDrained(t *testing.T) {
	registry := &fakeRegistry{known: map[string]bool{}}
	breaker := circuitbreaker.New(5, 0)
	rules := &fakeRuleRepo{}
	router := New(registry, breaker, rules)

	_, err := router.Begin("primary").Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllBackendsExhausted)
}

func TestAttempt_NeverVisitsSameModelTwice(t *testing.T) {
	registry := &fakeRegistry{known: map[string]bool{"a": true, "b": true}}
	breaker := circuitbreaker.New(1, 0)
	rules := &fakeRuleRepo{rules: map[string][]domain.FallbackRule{
		"a": {{PrimaryModel: "a", FallbackModel: "b", Priority: 1}},
		"b": {{PrimaryModel: "b", FallbackModel: "a", Priority: 1}}, // cycle back to a
	}}
	router := New(registry, breaker, rules)

	attempt := router.Begin("a")
	first, err := attempt.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", first.ModelID)

	attempt.MarkFailed(context.Background(), "a")
	second, err := attempt.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", second.ModelID)

	attempt.MarkFailed(context.Background(), "b")
	_, err = attempt.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllBackendsExhausted)
}
