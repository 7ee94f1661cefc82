package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lowart/gateway/internal/domain"
)

// Submitter allocates an AsyncJob for a request submitted with async=true and
// enqueues it for background processing, instead of running the tool loop inline.
type Submitter struct {
	Jobs  domain.AsyncJobRepository
	Queue domain.JobQueue
}

// NewSubmitter constructs a Submitter.
func NewSubmitter(jobs domain.AsyncJobRepository, queue domain.JobQueue) *Submitter {
	return &Submitter{Jobs: jobs, Queue: queue}
}

// Submit persists a pending AsyncJob wrapping req and hands its id to the queue.
func (s *Submitter) Submit(ctx domain.Context, principal domain.Principal, req domain.ChatRequest) (domain.AsyncJob, error) {
	tr := otel.Tracer("usecase.chat")
	ctx, span := tr.Start(ctx, "Submitter.Submit")
	defer span.End()

	payload, err := json.Marshal(domain.AsyncJobPayload{PrincipalID: principal.ID, Request: req})
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("op=chat.Submit: %w: %v", domain.ErrInternal, err)
	}

	job, err := s.Jobs.Create(ctx, domain.AsyncJob{
		PrincipalID: principal.ID,
		Status:      domain.JobPending,
		Payload:     payload,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	})
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("op=chat.Submit: %w", err)
	}

	if err := s.Queue.Enqueue(ctx, job.JobID); err != nil {
		return domain.AsyncJob{}, fmt.Errorf("op=chat.Submit: %w", err)
	}

	return job, nil
}
