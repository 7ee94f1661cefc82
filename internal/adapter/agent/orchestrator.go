// Package agent implements the Agent Orchestrator: a routing hub that dispatches
// AgentMessages to registered Agents, fire-and-forget, without waiting for or
// surfacing the eventual handler result back to the dispatching caller.
package agent

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lowart/gateway/internal/domain"
)

const broadcastReceiver = "*"

// Orchestrator routes AgentMessages between registered Agents.
type Orchestrator struct {
	mu     sync.RWMutex
	agents map[string]domain.Agent
}

// New constructs an empty Orchestrator.
func New() *Orchestrator {
	return &Orchestrator{agents: make(map[string]domain.Agent)}
}

// Register adds or replaces the agent under its own ID.
func (o *Orchestrator) Register(a domain.Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents[a.ID()] = a
}

// Dispatch routes msg to its Receiver, or to every agent but the sender when
// Receiver is "*". Delivery is asynchronous: Dispatch returns once the message
// is handed off, not once the recipient has finished handling it.
func (o *Orchestrator) Dispatch(ctx domain.Context, msg domain.AgentMessage) error {
	if msg.Receiver == broadcastReceiver {
		o.broadcast(ctx, msg)
		return nil
	}

	o.mu.RLock()
	target, ok := o.agents[msg.Receiver]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("op=agent.Dispatch: %w: agent %q", domain.ErrNotFound, msg.Receiver)
	}

	o.deliver(ctx, target, msg)
	return nil
}

func (o *Orchestrator) broadcast(ctx domain.Context, msg domain.AgentMessage) {
	o.mu.RLock()
	targets := make([]domain.Agent, 0, len(o.agents))
	for id, a := range o.agents {
		if id != msg.Sender {
			targets = append(targets, a)
		}
	}
	o.mu.RUnlock()

	for _, a := range targets {
		o.deliver(ctx, a, msg)
	}
}

func (o *Orchestrator) deliver(ctx domain.Context, a domain.Agent, msg domain.AgentMessage) {
	go func() {
		if _, err := a.HandleMessage(ctx, msg); err != nil {
			slog.Error("agent message handling failed", slog.String("agent", a.ID()), slog.String("msg_id", msg.ID), slog.Any("error", err))
		}
	}()
}

var _ domain.AgentOrchestrator = (*Orchestrator)(nil)
