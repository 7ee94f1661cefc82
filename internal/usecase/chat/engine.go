// Package chat implements the Chat Completion tool-calling state machine: model
// selection via the fallback chain, per-tool governance, confirm-session pause and
// resume, and token accounting.
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

const defaultMaxIterations = 5

// Engine drives the non-streaming chat-completion tool loop.
type Engine struct {
	Router        *fallback.Router
	Policies      domain.ToolPolicyRepository
	Tools         domain.McpFederation
	Scripts       domain.ScriptTransform
	Meter         domain.TokenMeter
	Usage         domain.UsageRepository
	Principals    domain.PrincipalRepository
	Sessions      domain.ConfirmSessionRepository
	MaxIterations int
	ConfirmTTL    time.Duration
}

// New constructs an Engine with defaulted iteration bound and confirm TTL.
func New(router *fallback.Router, policies domain.ToolPolicyRepository, tools domain.McpFederation, scripts domain.ScriptTransform, meter domain.TokenMeter, usage domain.UsageRepository, principals domain.PrincipalRepository, sessions domain.ConfirmSessionRepository) *Engine {
	return &Engine{
		Router:        router,
		Policies:      policies,
		Tools:         tools,
		Scripts:       scripts,
		Meter:         meter,
		Usage:         usage,
		Principals:    principals,
		Sessions:      sessions,
		MaxIterations: defaultMaxIterations,
		ConfirmTTL:    10 * time.Minute,
	}
}

// OutcomeKind distinguishes the two shapes Complete/Resume can return.
type OutcomeKind string

const (
	OutcomeFinal   OutcomeKind = "final"
	OutcomeConfirm OutcomeKind = "require_confirmation"
)

// Outcome is the result of a completed or paused tool-call loop.
type Outcome struct {
	Kind         OutcomeKind
	Final        json.RawMessage
	SessionID    string
	PendingCalls []domain.ToolCall
}

type wireMessage struct {
	Role       string            `json:"role"`
	Content    json.RawMessage   `json:"content,omitempty"`
	ToolCalls  []domain.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

func stringContent(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func contentAsString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

type toolFunctionWire struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type toolWire struct {
	Type     string           `json:"type"`
	Function toolFunctionWire `json:"function"`
}

type completionResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

type chatPayload struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []toolWire    `json:"tools,omitempty"`
}

// Complete runs the tool-call loop for a freshly submitted request.
func (e *Engine) Complete(ctx domain.Context, principal domain.Principal, req domain.ChatRequest) (Outcome, error) {
	tr := otel.Tracer("usecase.chat")
	ctx, span := tr.Start(ctx, "Engine.Complete")
	defer span.End()

	var messages []wireMessage
	if err := json.Unmarshal(req.Messages, &messages); err != nil {
		return Outcome{}, fmt.Errorf("op=chat.Complete: %w: %v", domain.ErrBadRequest, err)
	}

	tools, err := e.buildTools(ctx, req.Tools)
	if err != nil {
		return Outcome{}, fmt.Errorf("op=chat.Complete: %w", err)
	}

	attempt := e.Router.Begin(req.Model)
	return e.runLoop(ctx, principal, attempt, messages, tools)
}

// Resume loads a paused ConfirmSession, executes the approved tool calls, rejects
// the rest, and re-enters the tool loop with the reconstructed message list.
func (e *Engine) Resume(ctx domain.Context, principal domain.Principal, sessionID string, approvedIDs []string) (Outcome, error) {
	tr := otel.Tracer("usecase.chat")
	ctx, span := tr.Start(ctx, "Engine.Resume")
	defer span.End()

	session, err := e.Sessions.Load(ctx, sessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("op=chat.Resume: %w", domain.ErrSessionMissing)
	}
	if session.PrincipalID != principal.ID {
		return Outcome{}, fmt.Errorf("op=chat.Resume: %w", domain.ErrPermissionDenied)
	}
	if time.Now().After(session.ExpiresAt) {
		_ = e.Sessions.Delete(ctx, sessionID)
		return Outcome{}, fmt.Errorf("op=chat.Resume: %w", domain.ErrSessionExpired)
	}

	var messages []wireMessage
	if err := json.Unmarshal(session.SerializedPayload, &messages); err != nil {
		return Outcome{}, fmt.Errorf("op=chat.Resume: %w: %v", domain.ErrInternal, err)
	}
	var pending []domain.ToolCall
	if err := json.Unmarshal(session.SerializedPendingCalls, &pending); err != nil {
		return Outcome{}, fmt.Errorf("op=chat.Resume: %w: %v", domain.ErrInternal, err)
	}

	approved := make(map[string]bool, len(approvedIDs))
	for _, id := range approvedIDs {
		approved[id] = true
	}

	for _, call := range pending {
		if approved[call.ID] {
			messages = append(messages, e.executeTool(ctx, call))
		} else {
			messages = append(messages, wireMessage{Role: "tool", ToolCallID: call.ID, Name: call.Function.Name, Content: stringContent("Rejected by user")})
		}
	}

	_ = e.Sessions.Delete(ctx, sessionID)

	attempt := e.Router.Begin(session.ModelID)
	return e.runLoop(ctx, principal, attempt, messages, nil)
}

func (e *Engine) runLoop(ctx domain.Context, principal domain.Principal, attempt *fallback.Attempt, messages []wireMessage, tools []toolWire) (Outcome, error) {
	maxIter := e.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	var resTokensAccum int
	var lastModelID string
	var lastResponseScript *string

	for iteration := 0; iteration < maxIter; iteration++ {
		raw, modelID, responseScript, err := e.callWithFallback(ctx, attempt, messages, tools)
		if err != nil {
			return Outcome{}, fmt.Errorf("op=chat.runLoop: %w", err)
		}
		lastModelID = modelID
		lastResponseScript = responseScript

		var resp completionResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return Outcome{}, fmt.Errorf("op=chat.runLoop: %w: %v", domain.ErrInternal, err)
		}
		if len(resp.Choices) == 0 {
			return Outcome{}, fmt.Errorf("op=chat.runLoop: %w: empty choices", domain.ErrInternal)
		}
		assistant := resp.Choices[0].Message
		assistant.Role = "assistant"
		resTokensAccum += e.Meter.Count(contentAsString(assistant.Content))

		if len(assistant.ToolCalls) == 0 {
			e.recordUsage(principal, lastModelID, e.Meter.CountMessages(mustMarshalMessages(messages)), resTokensAccum)
			final, err := e.applyResponseScript(ctx, lastResponseScript, raw)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Kind: OutcomeFinal, Final: final}, nil
		}

		messages = append(messages, assistant)

		var pending []domain.ToolCall
		var resultMessages []wireMessage
		for _, call := range assistant.ToolCalls {
			policy, err := e.Policies.Effective(ctx, call.Function.Name, principal.ID)
			if err != nil {
				policy = domain.ToolPolicyAuto
			}
			switch policy {
			case domain.ToolPolicyBlock:
				resultMessages = append(resultMessages, wireMessage{Role: "tool", ToolCallID: call.ID, Name: call.Function.Name, Content: stringContent("blocked by policy")})
			case domain.ToolPolicyConfirm:
				pending = append(pending, call)
			default:
				resultMessages = append(resultMessages, e.executeTool(ctx, call))
			}
		}

		if len(pending) > 0 {
			messages = append(messages, resultMessages...)
			sessionID := uuid.New().String()
			serializedMessages, err := json.Marshal(messages)
			if err != nil {
				return Outcome{}, fmt.Errorf("op=chat.runLoop: %w", err)
			}
			serializedPending, err := json.Marshal(pending)
			if err != nil {
				return Outcome{}, fmt.Errorf("op=chat.runLoop: %w", err)
			}
			session := domain.ConfirmSession{
				SessionID:              sessionID,
				PrincipalID:            principal.ID,
				ModelID:                lastModelID,
				SerializedPayload:      serializedMessages,
				SerializedPendingCalls: serializedPending,
				CreatedAt:              time.Now(),
				ExpiresAt:              time.Now().Add(e.ConfirmTTL),
			}
			if err := e.Sessions.Save(ctx, session); err != nil {
				return Outcome{}, fmt.Errorf("op=chat.runLoop: %w", err)
			}
			return Outcome{Kind: OutcomeConfirm, SessionID: sessionID, PendingCalls: pending}, nil
		}

		messages = append(messages, resultMessages...)
	}

	return Outcome{}, fmt.Errorf("op=chat.runLoop: %w", domain.ErrMaxIterations)
}

func (e *Engine) executeTool(ctx domain.Context, call domain.ToolCall) wireMessage {
	result, err := e.Tools.Call(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
	if err != nil {
		return wireMessage{Role: "tool", ToolCallID: call.ID, Name: call.Function.Name, Content: stringContent(fmt.Sprintf("tool error: %v", err))}
	}
	return wireMessage{Role: "tool", ToolCallID: call.ID, Name: call.Function.Name, Content: result}
}

func (e *Engine) callWithFallback(ctx domain.Context, attempt *fallback.Attempt, messages []wireMessage, tools []toolWire) (json.RawMessage, string, *string, error) {
	payload := chatPayload{Messages: messages, Tools: tools}

	for {
		candidate, err := attempt.Next(ctx)
		if err != nil {
			return nil, "", nil, err
		}
		payload.Model = candidate.ModelID

		body, err := json.Marshal(payload)
		if err != nil {
			return nil, "", nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}

		transformed, err := e.applyRequestScript(ctx, candidate.RequestScript, body)
		if err != nil {
			return nil, "", nil, err
		}

		raw, err := candidate.Adapter.Complete(ctx, transformed)
		if err != nil {
			attempt.MarkFailed(ctx, candidate.ModelID)
			continue
		}
		attempt.MarkSucceeded(candidate.ModelID)
		return raw, candidate.ModelID, candidate.ResponseScript, nil
	}
}

func (e *Engine) applyRequestScript(ctx domain.Context, script *string, payload json.RawMessage) (json.RawMessage, error) {
	if script == nil || e.Scripts == nil {
		return payload, nil
	}
	out, err := e.Scripts.Run(ctx, *script, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	return out, nil
}

func (e *Engine) applyResponseScript(ctx domain.Context, script *string, payload json.RawMessage) (json.RawMessage, error) {
	if script == nil || e.Scripts == nil {
		return payload, nil
	}
	out, err := e.Scripts.Run(ctx, *script, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return out, nil
}

func (e *Engine) buildTools(ctx domain.Context, requestTools json.RawMessage) ([]toolWire, error) {
	var wires []toolWire
	if len(requestTools) > 0 {
		if err := json.Unmarshal(requestTools, &wires); err != nil {
			return nil, fmt.Errorf("%w: invalid tools field: %v", domain.ErrBadRequest, err)
		}
	}
	if e.Tools == nil {
		return wires, nil
	}
	federated, err := e.Tools.ListAllTools(ctx)
	if err != nil {
		return wires, nil
	}
	for _, t := range federated {
		wires = append(wires, toolWire{Type: "function", Function: toolFunctionWire{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}})
	}
	return wires, nil
}

func (e *Engine) recordUsage(principal domain.Principal, modelID string, reqTokens, resTokens int) {
	if e.Usage == nil && e.Principals == nil {
		return
	}
	go func() {
		bg := context.Background()
		if e.Usage != nil {
			record := domain.UsageRecord{
				ID:          uuid.New().String(),
				PrincipalID: principal.ID,
				ModelID:     modelID,
				ReqTokens:   reqTokens,
				ResTokens:   resTokens,
				Kind:        domain.UsageKindChat,
				Timestamp:   time.Now(),
			}
			if err := e.Usage.Append(bg, record); err != nil {
				slog.Error("usage record append failed", slog.String("principal", principal.ID), slog.Any("error", err))
			}
		}
		if e.Principals != nil {
			if err := e.Principals.IncrementTokenUsed(bg, principal.ID, int64(reqTokens+resTokens)); err != nil {
				slog.Error("token usage increment failed", slog.String("principal", principal.ID), slog.Any("error", err))
			}
		}
	}()
}

func mustMarshalMessages(messages []wireMessage) json.RawMessage {
	b, err := json.Marshal(messages)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return b
}
