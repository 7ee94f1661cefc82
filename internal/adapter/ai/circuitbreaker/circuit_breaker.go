// Package circuitbreaker implements a per-model Closed/Open/HalfOpen availability
// gate. The Open→HalfOpen transition is lazy: it happens on the next ShouldAttempt
// call rather than on a background timer, and HalfOpen admits any request rather
// than gating on a single strict probe.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/lowart/gateway/internal/adapter/observability"
	"github.com/lowart/gateway/internal/domain"
)

type health struct {
	state           domain.CircuitBreakerState
	failureCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
}

// Manager tracks one health cell per logical model id and satisfies
// domain.CircuitBreaker.
type Manager struct {
	mu              sync.Mutex
	cells           map[string]*health
	failureThreshold int
	resetTimeout     time.Duration
}

// New creates a Manager with the given failure threshold and reset timeout.
// The spec default is threshold=5, reset=30s.
func New(failureThreshold int, resetTimeout time.Duration) *Manager {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Manager{
		cells:            make(map[string]*health),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

func (m *Manager) cell(modelID string) *health {
	h, ok := m.cells[modelID]
	if !ok {
		h = &health{state: domain.CircuitClosed}
		m.cells[modelID] = h
	}
	return h
}

// ShouldAttempt reports whether a request to modelID is currently admitted. The
// Open→HalfOpen transition is evaluated lazily here, as the spec requires.
func (m *Manager) ShouldAttempt(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.cell(modelID)

	switch h.state {
	case domain.CircuitClosed:
		return true
	case domain.CircuitOpen:
		if time.Since(h.lastFailureTime) > m.resetTimeout {
			h.state = domain.CircuitHalfOpen
			observability.RecordCircuitBreakerStatus(modelID, 2)
			return true
		}
		return false
	case domain.CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call against modelID.
func (m *Manager) RecordSuccess(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.cell(modelID)
	h.lastSuccessTime = time.Now()
	if h.state == domain.CircuitHalfOpen {
		h.state = domain.CircuitClosed
		h.failureCount = 0
		observability.RecordCircuitBreakerStatus(modelID, 0)
	}
}

// RecordFailure reports a failed call against modelID. The exact threshold-th
// failure causes the Closed→Open transition.
func (m *Manager) RecordFailure(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.cell(modelID)
	h.failureCount++
	h.lastFailureTime = time.Now()

	if h.state == domain.CircuitHalfOpen {
		h.state = domain.CircuitOpen
		observability.RecordCircuitBreakerStatus(modelID, 1)
		return
	}
	if h.failureCount >= m.failureThreshold && h.state != domain.CircuitOpen {
		h.state = domain.CircuitOpen
		observability.RecordCircuitBreakerStatus(modelID, 1)
	}
}

// State returns the current state of modelID without mutating it.
func (m *Manager) State(modelID string) domain.CircuitBreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cell(modelID).state
}

var _ domain.CircuitBreaker = (*Manager)(nil)
