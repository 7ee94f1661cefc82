package asynqadp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/google/uuid"
	"github.com/lowart/gateway/internal/adapter/ai/fallback"
	"github.com/lowart/gateway/internal/adapter/observability"
	"github.com/lowart/gateway/internal/domain"
)

// Worker processes deferred chat jobs using asynq. Unlike the inline Engine,
// it never runs the tool-call loop: an async job gets exactly one Complete
// call against the resolved model (falling back across the chain on error,
// since no output has been returned to a caller yet) and whatever the
// backend returns is the job's terminal result, tool calls included.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux

	jobs       domain.AsyncJobRepository
	router     *fallback.Router
	scripts    domain.ScriptTransform
	meter      domain.TokenMeter
	usage      domain.UsageRepository
	principals domain.PrincipalRepository
}

type chatJobMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
}

type chatJobPayload struct {
	Model    string           `json:"model"`
	Messages []chatJobMessage `json:"messages"`
}

// handleChatJob loads jobID, runs the single backend call, and writes the
// terminal status. It is unit-testable independent of the asynq server.
func handleChatJob(ctx context.Context, jobs domain.AsyncJobRepository, router *fallback.Router, scripts domain.ScriptTransform, meter domain.TokenMeter, usage domain.UsageRepository, principals domain.PrincipalRepository, jobID string) error {
	job, err := jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=worker.handleChatJob: %w", err)
	}

	var p domain.AsyncJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		_ = jobs.UpdateStatus(ctx, jobID, domain.JobFailed, nil, strPtr(err.Error()))
		observability.FailJob("chat")
		return err
	}

	if err := jobs.UpdateStatus(ctx, jobID, domain.JobRunning, nil, nil); err != nil {
		return fmt.Errorf("op=worker.handleChatJob: %w", err)
	}
	observability.StartProcessingJob("chat")

	var messages []chatJobMessage
	if err := json.Unmarshal(p.Request.Messages, &messages); err != nil {
		_ = jobs.UpdateStatus(ctx, jobID, domain.JobFailed, nil, strPtr(err.Error()))
		observability.FailJob("chat")
		return err
	}

	attempt := router.Begin(p.Request.Model)
	var raw json.RawMessage
	var modelID string
	var responseScript *string
	for {
		candidate, cerr := attempt.Next(ctx)
		if cerr != nil {
			_ = jobs.UpdateStatus(ctx, jobID, domain.JobFailed, nil, strPtr(cerr.Error()))
			observability.FailJob("chat")
			return cerr
		}
		body, merr := json.Marshal(chatJobPayload{Model: candidate.ModelID, Messages: messages})
		if merr != nil {
			_ = jobs.UpdateStatus(ctx, jobID, domain.JobFailed, nil, strPtr(merr.Error()))
			observability.FailJob("chat")
			return merr
		}
		transformed := json.RawMessage(body)
		if candidate.RequestScript != nil && scripts != nil {
			var serr error
			transformed, serr = scripts.Run(ctx, *candidate.RequestScript, body)
			if serr != nil {
				_ = jobs.UpdateStatus(ctx, jobID, domain.JobFailed, nil, strPtr(serr.Error()))
				observability.FailJob("chat")
				return serr
			}
		}
		out, aerr := candidate.Adapter.Complete(ctx, transformed)
		if aerr != nil {
			attempt.MarkFailed(ctx, candidate.ModelID)
			continue
		}
		attempt.MarkSucceeded(candidate.ModelID)
		raw, modelID, responseScript = out, candidate.ModelID, candidate.ResponseScript
		break
	}

	result := raw
	if responseScript != nil && scripts != nil {
		if transformed, rerr := scripts.Run(ctx, *responseScript, raw); rerr == nil {
			result = transformed
		}
	}

	if err := jobs.UpdateStatus(ctx, jobID, domain.JobCompleted, result, nil); err != nil {
		return fmt.Errorf("op=worker.handleChatJob: %w", err)
	}
	observability.CompleteJob("chat")

	if meter != nil {
		reqTokens := meter.CountMessages(p.Request.Messages)
		resTokens := meter.Count(string(result))
		if usage != nil {
			if err := usage.Append(ctx, domain.UsageRecord{
				ID:          uuid.New().String(),
				PrincipalID: p.PrincipalID,
				ModelID:     modelID,
				ReqTokens:   reqTokens,
				ResTokens:   resTokens,
				Kind:        domain.UsageKindChat,
			}); err != nil {
				slog.Error("usage record append failed", slog.String("job_id", jobID), slog.Any("error", err))
			}
		}
		if principals != nil {
			if err := principals.IncrementTokenUsed(ctx, p.PrincipalID, int64(reqTokens+resTokens)); err != nil {
				slog.Error("token usage increment failed", slog.String("job_id", jobID), slog.Any("error", err))
			}
		}
	}

	slog.Info("chat job completed", slog.String("job_id", jobID))
	return nil
}

// NewWorker constructs a Worker against the given Redis connection string.
func NewWorker(redisURL string, jobs domain.AsyncJobRepository, router *fallback.Router, scripts domain.ScriptTransform, meter domain.TokenMeter, usage domain.UsageRepository, principals domain.PrincipalRepository) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}
	srv := asynq.NewServer(opt, asynq.Config{Concurrency: 5})
	mux := asynq.NewServeMux()
	w := &Worker{server: srv, mux: mux, jobs: jobs, router: router, scripts: scripts, meter: meter, usage: usage, principals: principals}

	mux.HandleFunc(TaskChatJob, func(ctx context.Context, t *asynq.Task) error {
		tracer := otel.Tracer("queue.worker")
		ctx, span := tracer.Start(ctx, "ChatJob")
		defer span.End()
		return handleChatJob(ctx, w.jobs, w.router, w.scripts, w.meter, w.usage, w.principals, string(t.Payload()))
	})

	return w, nil
}

// Start begins processing tasks until shutdown.
func (w *Worker) Start(_ context.Context) error { return w.server.Start(w.mux) }

// Stop gracefully shuts down the worker server.
func (w *Worker) Stop() { w.server.Shutdown() }

func strPtr(s string) *string { return &s }
