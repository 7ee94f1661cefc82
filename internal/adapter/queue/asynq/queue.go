package asynqadp

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lowart/gateway/internal/adapter/observability"
	"github.com/lowart/gateway/internal/domain"
)

// TaskChatJob is the asynq task type for a deferred chat-completion request.
const TaskChatJob = "chat_job"

// Queue enqueues AsyncJob ids for the Worker to pick up.
type Queue struct{ client *asynq.Client }

// New constructs a Queue against the given Redis connection string.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

// Enqueue hands jobID to asynq. The task payload is just the id; the worker
// re-reads the AsyncJob row to pick up whatever state Submit last wrote.
func (q *Queue) Enqueue(ctx domain.Context, jobID string) error {
	t := asynq.NewTask(TaskChatJob, []byte(jobID))
	if _, err := q.client.EnqueueContext(ctx, t, asynq.MaxRetry(3), asynq.Retention(24*time.Hour)); err != nil {
		return fmt.Errorf("op=queue.Enqueue: %w", err)
	}
	observability.EnqueueJob("chat")
	return nil
}

var _ domain.JobQueue = (*Queue)(nil)
