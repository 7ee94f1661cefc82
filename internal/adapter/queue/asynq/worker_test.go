package asynqadp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowart/gateway/internal/adapter/ai/circuitbreaker"
	"github.com/lowart/gateway/internal/adapter/ai/fallback"
	"github.com/lowart/gateway/internal/domain"
)

type fakeAdapter struct {
	id   string
	resp json.RawMessage
	err  error
}

func (a *fakeAdapter) ID() string { return a.id }
func (a *fakeAdapter) Complete(domain.Context, json.RawMessage) (json.RawMessage, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.resp, nil
}
func (a *fakeAdapter) Stream(domain.Context, json.RawMessage) (<-chan domain.StreamItem, error) {
	return nil, domain.ErrNotSupported
}

type fakeRegistry struct{ adapters map[string]domain.Adapter }

func (r *fakeRegistry) Resolve(_ domain.Context, modelID string) (domain.Adapter, *string, *string, error) {
	a, ok := r.adapters[modelID]
	if !ok {
		return nil, nil, nil, domain.ErrModelNotFound
	}
	return a, nil, nil, nil
}
func (r *fakeRegistry) Clear() {}

type fakeRuleRepo struct{ rules map[string][]domain.FallbackRule }

func (f fakeRuleRepo) ListByPrimary(_ domain.Context, primary string) ([]domain.FallbackRule, error) {
	return f.rules[primary], nil
}
func (f fakeRuleRepo) Upsert(domain.Context, domain.FallbackRule) error { return nil }

type fakeAsyncJobRepo struct {
	jobs map[string]domain.AsyncJob
}

func (f *fakeAsyncJobRepo) Get(_ domain.Context, jobID string) (domain.AsyncJob, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return domain.AsyncJob{}, domain.ErrJobNotFound
	}
	return j, nil
}
func (f *fakeAsyncJobRepo) ListByPrincipal(domain.Context, string) ([]domain.AsyncJob, error) {
	return nil, nil
}
func (f *fakeAsyncJobRepo) ListStuck(domain.Context, domain.JobStatus, time.Time, int, int) ([]domain.AsyncJob, error) {
	return nil, nil
}
func (f *fakeAsyncJobRepo) Create(_ domain.Context, j domain.AsyncJob) (domain.AsyncJob, error) {
	f.jobs[j.JobID] = j
	return j, nil
}
func (f *fakeAsyncJobRepo) UpdateStatus(_ domain.Context, jobID string, status domain.JobStatus, result json.RawMessage, errMsg *string) error {
	j, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.Status = status
	j.Result = result
	j.Error = errMsg
	f.jobs[jobID] = j
	return nil
}

func newJobPayload(t *testing.T, principalID, model string) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(domain.AsyncJobPayload{
		PrincipalID: principalID,
		Request: domain.ChatRequest{
			Model:    model,
			Messages: json.RawMessage(`[{"role":"user","content":"hi"}]`),
			Async:    true,
		},
	})
	require.NoError(t, err)
	return payload
}

func TestHandleChatJob_CompletesOnSuccess(t *testing.T) {
	jobs := &fakeAsyncJobRepo{jobs: map[string]domain.AsyncJob{
		"job-1": {JobID: "job-1", PrincipalID: "p1", Status: domain.JobPending, Payload: newJobPayload(t, "p1", "gpt-4o")},
	}}
	registry := &fakeRegistry{adapters: map[string]domain.Adapter{
		"gpt-4o": &fakeAdapter{id: "gpt-4o", resp: json.RawMessage(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`)},
	}}
	router := fallback.New(registry, circuitbreaker.New(5, time.Minute), fakeRuleRepo{})

	err := handleChatJob(context.Background(), jobs, router, nil, nil, nil, nil, "job-1")
	require.NoError(t, err)

	got := jobs.jobs["job-1"]
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Contains(t, string(got.Result), "hello")
}

func TestHandleChatJob_FallsBackToSecondaryModelOnAdapterError(t *testing.T) {
	jobs := &fakeAsyncJobRepo{jobs: map[string]domain.AsyncJob{
		"job-1": {JobID: "job-1", PrincipalID: "p1", Status: domain.JobPending, Payload: newJobPayload(t, "p1", "primary")},
	}}
	registry := &fakeRegistry{adapters: map[string]domain.Adapter{
		"primary":   &fakeAdapter{id: "primary", err: assertErr("boom")},
		"secondary": &fakeAdapter{id: "secondary", resp: json.RawMessage(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)},
	}}
	rules := fakeRuleRepo{rules: map[string][]domain.FallbackRule{
		"primary": {{PrimaryModel: "primary", FallbackModel: "secondary", Priority: 1}},
	}}
	router := fallback.New(registry, circuitbreaker.New(5, time.Minute), rules)

	err := handleChatJob(context.Background(), jobs, router, nil, nil, nil, nil, "job-1")
	require.NoError(t, err)

	got := jobs.jobs["job-1"]
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Contains(t, string(got.Result), "ok")
}

func TestHandleChatJob_ExhaustedChainMarksFailed(t *testing.T) {
	jobs := &fakeAsyncJobRepo{jobs: map[string]domain.AsyncJob{
		"job-1": {JobID: "job-1", PrincipalID: "p1", Status: domain.JobPending, Payload: newJobPayload(t, "p1", "primary")},
	}}
	registry := &fakeRegistry{adapters: map[string]domain.Adapter{
		"primary": &fakeAdapter{id: "primary", err: assertErr("boom")},
	}}
	router := fallback.New(registry, circuitbreaker.New(5, time.Minute), fakeRuleRepo{})

	err := handleChatJob(context.Background(), jobs, router, nil, nil, nil, nil, "job-1")
	require.Error(t, err)

	got := jobs.jobs["job-1"]
	assert.Equal(t, domain.JobFailed, got.Status)
	require.NotNil(t, got.Error)
}

func TestHandleChatJob_UnknownJobReturnsError(t *testing.T) {
	jobs := &fakeAsyncJobRepo{jobs: map[string]domain.AsyncJob{}}
	router := fallback.New(&fakeRegistry{adapters: map[string]domain.Adapter{}}, circuitbreaker.New(5, time.Minute), fakeRuleRepo{})

	err := handleChatJob(context.Background(), jobs, router, nil, nil, nil, nil, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
