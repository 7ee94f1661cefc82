package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/lowart/gateway/internal/adapter/ai/fallback"
	"github.com/lowart/gateway/internal/domain"
)

// FrameSink receives one SSE frame at a time. event is "" for a plain data
// frame, or a named event like "error".
type FrameSink interface {
	WriteFrame(event, data string) error
}

// StreamEngine drives a single streamed chat completion: it opens an upstream
// adapter stream (falling back across candidates only until the first chunk
// is committed), relays chunks to a FrameSink, and accounts tokens once the
// upstream stream ends.
type StreamEngine struct {
	Router     *fallback.Router
	Meter      domain.TokenMeter
	Usage      domain.UsageRepository
	Principals domain.PrincipalRepository
}

// NewStream constructs a StreamEngine.
func NewStream(router *fallback.Router, meter domain.TokenMeter, usage domain.UsageRepository, principals domain.PrincipalRepository) *StreamEngine {
	return &StreamEngine{Router: router, Meter: meter, Usage: usage, Principals: principals}
}

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream opens the upstream stream for req and relays it to sink until the
// upstream ends or ctx is cancelled. Upstream errors are relayed as "error"
// frames without ending the stream; only ctx cancellation or exhausting the
// fallback chain before any chunk is sent ends it early with an error.
func (e *StreamEngine) Stream(ctx domain.Context, principal domain.Principal, req domain.ChatRequest, sink FrameSink) error {
	tr := otel.Tracer("usecase.chat")
	ctx, span := tr.Start(ctx, "StreamEngine.Stream")
	defer span.End()

	var messages []wireMessage
	if err := json.Unmarshal(req.Messages, &messages); err != nil {
		return fmt.Errorf("op=chat.Stream: %w: %v", domain.ErrBadRequest, err)
	}

	payload, err := json.Marshal(chatPayload{Model: req.Model, Messages: messages})
	if err != nil {
		return fmt.Errorf("op=chat.Stream: %w: %v", domain.ErrInternal, err)
	}

	attempt := e.Router.Begin(req.Model)
	upstream, modelID, err := e.openUpstream(ctx, attempt, payload)
	if err != nil {
		return fmt.Errorf("op=chat.Stream: %w", err)
	}

	var resContent string
	for {
		select {
		case <-ctx.Done():
			e.recordUsage(principal, modelID, e.Meter.CountMessages(payload), e.Meter.Count(resContent))
			return ctx.Err()
		case item, ok := <-upstream:
			if !ok {
				e.recordUsage(principal, modelID, e.Meter.CountMessages(payload), e.Meter.Count(resContent))
				return nil
			}
			if item.Err != nil {
				if werr := sink.WriteFrame("error", item.Err.Error()); werr != nil {
					return werr
				}
				continue
			}
			resContent += extractDelta(item.Data)
			if werr := sink.WriteFrame("", string(item.Data)); werr != nil {
				return werr
			}
		}
	}
}

// openUpstream walks the fallback chain, trying each candidate's Stream call
// until one opens successfully. Once a stream is open no further fallback is
// attempted: partial output may already be in flight to the client.
func (e *StreamEngine) openUpstream(ctx domain.Context, attempt *fallback.Attempt, payload json.RawMessage) (<-chan domain.StreamItem, string, error) {
	for {
		candidate, err := attempt.Next(ctx)
		if err != nil {
			return nil, "", err
		}
		modelPayload, merr := withModel(payload, candidate.ModelID)
		if merr != nil {
			return nil, "", merr
		}
		stream, serr := candidate.Adapter.Stream(ctx, modelPayload)
		if serr != nil {
			attempt.MarkFailed(ctx, candidate.ModelID)
			continue
		}
		attempt.MarkSucceeded(candidate.ModelID)
		return stream, candidate.ModelID, nil
	}
}

func withModel(payload json.RawMessage, modelID string) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	encoded, err := json.Marshal(modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	m["model"] = encoded
	return json.Marshal(m)
}

func extractDelta(data json.RawMessage) string {
	var delta streamDelta
	if err := json.Unmarshal(data, &delta); err != nil || len(delta.Choices) == 0 {
		return ""
	}
	return delta.Choices[0].Delta.Content
}

func (e *StreamEngine) recordUsage(principal domain.Principal, modelID string, reqTokens, resTokens int) {
	if e.Usage == nil && e.Principals == nil {
		return
	}
	go func() {
		bg := context.Background()
		if e.Usage != nil {
			record := domain.UsageRecord{
				ID: uuid.New().String(), PrincipalID: principal.ID, ModelID: modelID,
				ReqTokens: reqTokens, ResTokens: resTokens, Kind: domain.UsageKindStream, Timestamp: time.Now(),
			}
			if err := e.Usage.Append(bg, record); err != nil {
				slog.Error("stream usage record append failed", slog.String("principal", principal.ID), slog.Any("error", err))
			}
		}
		if e.Principals != nil {
			if err := e.Principals.IncrementTokenUsed(bg, principal.ID, int64(reqTokens+resTokens)); err != nil {
				slog.Error("stream token usage increment failed", slog.String("principal", principal.ID), slog.Any("error", err))
			}
		}
	}()
}
