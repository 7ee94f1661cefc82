package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lowart/gateway/internal/domain"
)

func TestNew_Defaults(t *testing.T) {
	m := New(0, 0)
	assert.Equal(t, 5, m.failureThreshold)
	assert.Equal(t, 30*time.Second, m.resetTimeout)
}

func TestShouldAttempt_ClosedAllowsByDefault(t *testing.T) {
	m := New(5, 30*time.Second)
	assert.True(t, m.ShouldAttempt("model-a"))
	assert.Equal(t, domain.CircuitClosed, m.State("model-a"))
}

func TestClosedToOpen_AtThreshold(t *testing.T) {
	m := New(3, time.Minute)
	for i := 0; i < 2; i++ {
		m.RecordFailure("model-a")
		assert.Equal(t, domain.CircuitClosed, m.State("model-a"))
	}
	m.RecordFailure("model-a")
	assert.Equal(t, domain.CircuitOpen, m.State("model-a"))
	assert.False(t, m.ShouldAttempt("model-a"))
}

func TestOpenToHalfOpen_IsLazyOnShouldAttempt(t *testing.T) {
	m := New(1, 50*time.Millisecond)
	m.RecordFailure("model-a")
	assert.Equal(t, domain.CircuitOpen, m.State("model-a"))

	// Before reset timeout elapses, still open and state unchanged without a check.
	assert.False(t, m.ShouldAttempt("model-a"))

	time.Sleep(60 * time.Millisecond)
	// State stays Open until ShouldAttempt is actually called, then flips to HalfOpen.
	assert.Equal(t, domain.CircuitOpen, m.State("model-a"))
	assert.True(t, m.ShouldAttempt("model-a"))
	assert.Equal(t, domain.CircuitHalfOpen, m.State("model-a"))
}

func TestHalfOpen_AdmitsAnyRequest(t *testing.T) {
	m := New(1, 10*time.Millisecond)
	m.RecordFailure("model-a")
	time.Sleep(15 * time.Millisecond)
	assert.True(t, m.ShouldAttempt("model-a"))
	assert.Equal(t, domain.CircuitHalfOpen, m.State("model-a"))

	// HalfOpen admits further requests without itself flipping state.
	assert.True(t, m.ShouldAttempt("model-a"))
	assert.True(t, m.ShouldAttempt("model-a"))
	assert.Equal(t, domain.CircuitHalfOpen, m.State("model-a"))
}

func TestHalfOpen_SuccessClosesAndResetsCounter(t *testing.T) {
	m := New(2, 10*time.Millisecond)
	m.RecordFailure("model-a")
	m.RecordFailure("model-a")
	time.Sleep(15 * time.Millisecond)
	m.ShouldAttempt("model-a")
	assert.Equal(t, domain.CircuitHalfOpen, m.State("model-a"))

	m.RecordSuccess("model-a")
	assert.Equal(t, domain.CircuitClosed, m.State("model-a"))

	// Counter reset means it takes a fresh full threshold of failures to re-open.
	m.RecordFailure("model-a")
	assert.Equal(t, domain.CircuitClosed, m.State("model-a"))
}

func TestHalfOpen_FailureReopens(t *testing.T) {
	m := New(1, 10*time.Millisecond)
	m.RecordFailure("model-a")
	time.Sleep(15 * time.Millisecond)
	m.ShouldAttempt("model-a")
	assert.Equal(t, domain.CircuitHalfOpen, m.State("model-a"))

	m.RecordFailure("model-a")
	assert.Equal(t, domain.CircuitOpen, m.State("model-a"))
}

func TestModelsAreIndependent(t *testing.T) {
	m := New(1, time.Minute)
	m.RecordFailure("model-a")
	assert.Equal(t, domain.CircuitOpen, m.State("model-a"))
	assert.Equal(t, domain.CircuitClosed, m.State("model-b"))
}
