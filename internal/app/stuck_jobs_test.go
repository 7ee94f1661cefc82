package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lowart/gateway/internal/domain"
)

type fakeAsyncJobRepo struct {
	jobs        []domain.AsyncJob
	updateCalls []struct {
		id     string
		status domain.JobStatus
		msg    *string
	}
	listErr   error
	updateErr error
}

func (r *fakeAsyncJobRepo) Get(context.Context, string) (domain.AsyncJob, error) {
	return domain.AsyncJob{}, nil
}
func (r *fakeAsyncJobRepo) ListByPrincipal(context.Context, string) ([]domain.AsyncJob, error) {
	return nil, nil
}
func (r *fakeAsyncJobRepo) Create(context.Context, domain.AsyncJob) (domain.AsyncJob, error) {
	return domain.AsyncJob{}, nil
}
func (r *fakeAsyncJobRepo) UpdateStatus(_ context.Context, id string, status domain.JobStatus, _ json.RawMessage, msg *string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updateCalls = append(r.updateCalls, struct {
		id     string
		status domain.JobStatus
		msg    *string
	}{id: id, status: status, msg: msg})
	return nil
}
func (r *fakeAsyncJobRepo) ListStuck(_ context.Context, status domain.JobStatus, before time.Time, offset, limit int) ([]domain.AsyncJob, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	if offset > 0 {
		return nil, nil
	}
	var out []domain.AsyncJob
	for _, j := range r.jobs {
		if j.Status == status && j.UpdatedAt.Before(before) {
			out = append(out, j)
		}
	}
	return out, nil
}

func TestNewStuckJobSweeperDefaults(t *testing.T) {
	repo := &fakeAsyncJobRepo{}
	s := NewStuckJobSweeper(repo, 0, 0)
	if s == nil {
		t.Fatalf("expected non-nil sweeper")
	}
	if s.maxProcessingAge <= 0 {
		t.Fatalf("maxProcessingAge should be set to default, got %v", s.maxProcessingAge)
	}
	if s.interval <= 0 {
		t.Fatalf("interval should be set to default, got %v", s.interval)
	}
}

func TestNewStuckJobSweeperNilRepo(t *testing.T) {
	if sweeper := NewStuckJobSweeper(nil, time.Minute, time.Minute); sweeper != nil {
		t.Fatalf("expected nil sweeper when repo is nil")
	}
}

func TestStuckJobSweeperSweepOnceMarksOldJobsFailed(t *testing.T) {
	now := time.Now()
	repo := &fakeAsyncJobRepo{
		jobs: []domain.AsyncJob{
			{JobID: "old", Status: domain.JobRunning, UpdatedAt: now.Add(-10 * time.Minute)},
			{JobID: "recent", Status: domain.JobRunning, UpdatedAt: now.Add(-1 * time.Minute)},
		},
	}
	s := &StuckJobSweeper{
		jobs:             repo,
		maxProcessingAge: 5 * time.Minute,
		interval:         time.Minute,
	}

	s.sweepOnce(context.Background())

	if len(repo.updateCalls) != 1 {
		t.Fatalf("expected 1 update call, got %d", len(repo.updateCalls))
	}
	call := repo.updateCalls[0]
	if call.id != "old" {
		t.Fatalf("expected job 'old' to be updated, got %q", call.id)
	}
	if call.status != domain.JobFailed {
		t.Fatalf("expected status %q, got %q", domain.JobFailed, call.status)
	}
	if call.msg == nil || *call.msg == "" {
		t.Fatalf("expected non-empty failure message")
	}
}

func TestStuckJobSweeperRunStopsOnContextDone(t *testing.T) {
	repo := &fakeAsyncJobRepo{}
	s := NewStuckJobSweeper(repo, time.Minute, 10*time.Millisecond)
	if s == nil {
		t.Fatalf("expected non-nil sweeper")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(ch)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("Run did not exit after context cancellation")
	}
}
