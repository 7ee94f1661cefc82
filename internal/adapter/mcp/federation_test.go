package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowart/gateway/internal/domain"
)

type fakeHandle struct {
	tools    []domain.McpTool
	calls    []string
	failList bool
}

func (f *fakeHandle) ListTools(domain.Context) ([]domain.McpTool, error) {
	if f.failList {
		return nil, fmt.Errorf("boom")
	}
	return f.tools, nil
}
func (f *fakeHandle) CallTool(_ domain.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	f.calls = append(f.calls, name)
	return json.RawMessage(`{"ok":true}`), nil
}
func (f *fakeHandle) Close() error { return nil }

type fakeOrchestrator struct {
	dispatched []domain.AgentMessage
}

func (f *fakeOrchestrator) Register(domain.Agent) {}
func (f *fakeOrchestrator) Dispatch(_ domain.Context, msg domain.AgentMessage) error {
	f.dispatched = append(f.dispatched, msg)
	return nil
}

func TestListAllTools_IncludesRouteToAgentFirst(t *testing.T) {
	fed := New(&fakeOrchestrator{})
	fed.Register("painter", &fakeHandle{tools: []domain.McpTool{{Name: "draw"}}})

	tools, err := fed.ListAllTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, routeToAgentTool, tools[0].Name)
	assert.Equal(t, "draw", tools[1].Name)
}

func TestListAllTools_SkipsFailingHandle(t *testing.T) {
	fed := New(&fakeOrchestrator{})
	fed.Register("broken", &fakeHandle{failList: true})
	fed.Register("ok", &fakeHandle{tools: []domain.McpTool{{Name: "works"}}})

	tools, err := fed.ListAllTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "works", tools[1].Name)
}

func TestCall_RoutesToAgentOrchestratorInstead(t *testing.T) {
	orch := &fakeOrchestrator{}
	fed := New(orch)

	args, _ := json.Marshal(map[string]string{"target_agent": "painter", "message": "draw a cat"})
	result, err := fed.Call(context.Background(), routeToAgentTool, args)
	require.NoError(t, err)
	require.Len(t, orch.dispatched, 1)
	assert.Equal(t, "painter", orch.dispatched[0].Receiver)
	assert.Equal(t, domain.AgentMsgTaskAssign, orch.dispatched[0].Type)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(result, &body))
	assert.Equal(t, "sent", body.Status)
}

func TestCall_RouteToAgentRequiresFields(t *testing.T) {
	fed := New(&fakeOrchestrator{})
	_, err := fed.Call(context.Background(), routeToAgentTool, []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestCall_FirstMatchWinsAcrossHandles(t *testing.T) {
	fed := New(&fakeOrchestrator{})
	first := &fakeHandle{tools: []domain.McpTool{{Name: "shared"}}}
	second := &fakeHandle{tools: []domain.McpTool{{Name: "shared"}}}
	fed.Register("first", first)
	fed.Register("second", second)

	_, err := fed.Call(context.Background(), "shared", []byte(`{}`))
	require.NoError(t, err)
	assert.Len(t, first.calls, 1)
	assert.Len(t, second.calls, 0)
}

func TestCall_UnknownToolReturnsNotFound(t *testing.T) {
	fed := New(&fakeOrchestrator{})
	_, err := fed.Call(context.Background(), "nope", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnregister_RemovesHandleFromFutureListings(t *testing.T) {
	fed := New(&fakeOrchestrator{})
	fed.Register("painter", &fakeHandle{tools: []domain.McpTool{{Name: "draw"}}})
	fed.Unregister("painter")

	tools, err := fed.ListAllTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1) // only the synthetic route_to_agent tool remains
}
