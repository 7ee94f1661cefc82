package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowart/gateway/internal/domain"
)

const routeToAgentTool = "route_to_agent"

var routeToAgentSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "target_agent": {"type": "string", "description": "identifier of the target agent"},
    "message": {"type": "string", "description": "task content to send"}
  },
  "required": ["target_agent", "message"]
}`)

// Federation aggregates tool descriptors across registered MCP client handles and
// intercepts the synthetic route_to_agent tool, dispatching it through an
// AgentOrchestrator rather than any MCP backend.
type Federation struct {
	mu           sync.RWMutex
	handles      map[string]domain.McpClientHandle
	order        []string
	orchestrator domain.AgentOrchestrator
}

// New constructs a Federation that routes route_to_agent calls through orchestrator.
func New(orchestrator domain.AgentOrchestrator) *Federation {
	return &Federation{
		handles:      make(map[string]domain.McpClientHandle),
		orchestrator: orchestrator,
	}
}

// Register adds or replaces the handle registered under name.
func (f *Federation) Register(name string, handle domain.McpClientHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.handles[name]; !exists {
		f.order = append(f.order, name)
	}
	f.handles[name] = handle
}

// Unregister removes the handle registered under name, if any.
func (f *Federation) Unregister(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// ListAllTools returns the synthetic route_to_agent tool followed by every tool
// exposed by each registered handle, in registration order.
func (f *Federation) ListAllTools(ctx domain.Context) ([]domain.McpTool, error) {
	f.mu.RLock()
	names := append([]string(nil), f.order...)
	handles := make(map[string]domain.McpClientHandle, len(f.handles))
	for k, v := range f.handles {
		handles[k] = v
	}
	f.mu.RUnlock()

	all := []domain.McpTool{{
		Name:        routeToAgentTool,
		Description: "Route a task to another specialised agent.",
		InputSchema: routeToAgentSchema,
	}}

	for _, name := range names {
		tools, err := handles[name].ListTools(ctx)
		if err != nil {
			slog.Warn("mcp list_tools failed", slog.String("client", name), slog.Any("error", err))
			continue
		}
		all = append(all, tools...)
	}
	return all, nil
}

// Call intercepts route_to_agent and otherwise scans registered handles in
// registration order, dispatching to the first one that advertises toolName.
func (f *Federation) Call(ctx domain.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	if toolName == routeToAgentTool {
		return f.routeToAgent(ctx, args)
	}

	f.mu.RLock()
	names := append([]string(nil), f.order...)
	handles := make(map[string]domain.McpClientHandle, len(f.handles))
	for k, v := range f.handles {
		handles[k] = v
	}
	f.mu.RUnlock()

	for _, name := range names {
		handle := handles[name]
		tools, err := handle.ListTools(ctx)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if t.Name == toolName {
				return handle.CallTool(ctx, toolName, args)
			}
		}
	}
	return nil, fmt.Errorf("op=mcp.Call: %w: tool %q", domain.ErrNotFound, toolName)
}

func (f *Federation) routeToAgent(ctx domain.Context, args json.RawMessage) (json.RawMessage, error) {
	var body struct {
		TargetAgent string `json:"target_agent"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(args, &body); err != nil {
		return nil, fmt.Errorf("op=mcp.routeToAgent: %w: %v", domain.ErrBadRequest, err)
	}
	if body.TargetAgent == "" || body.Message == "" {
		return nil, fmt.Errorf("op=mcp.routeToAgent: %w: target_agent and message are required", domain.ErrBadRequest)
	}

	msgID := uuid.New().String()
	content, err := json.Marshal(struct {
		Prompt string `json:"prompt"`
	}{Prompt: body.Message})
	if err != nil {
		return nil, fmt.Errorf("op=mcp.routeToAgent: %w", err)
	}

	msg := domain.AgentMessage{
		ID:       msgID,
		Sender:   "gateway",
		Receiver: body.TargetAgent,
		Type:     domain.AgentMsgTaskAssign,
		Content:  content,
		Ts:       time.Now().Unix(),
	}
	if err := f.orchestrator.Dispatch(ctx, msg); err != nil {
		return nil, fmt.Errorf("op=mcp.routeToAgent: %w", err)
	}

	return json.Marshal(struct {
		Status string `json:"status"`
		Target string `json:"target"`
		JobID  string `json:"job_id"`
	}{Status: "sent", Target: body.TargetAgent, JobID: msgID})
}

var _ domain.McpFederation = (*Federation)(nil)
