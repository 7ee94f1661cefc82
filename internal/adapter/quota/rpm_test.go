package quota

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowart/gateway/internal/domain"
)

func newTestGate(t *testing.T) *Gate {
	g := &Gate{windows: make(map[windowKey]int), stop: make(chan struct{}), now: time.Now}
	t.Cleanup(g.Stop)
	return g
}

func TestCheckRPM_AllowsWithinLimit(t *testing.T) {
	g := newTestGate(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, g.CheckRPM("p1", 3))
	}
}

func TestCheckRPM_RejectsOverLimit(t *testing.T) {
	g := newTestGate(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, g.CheckRPM("p1", 3))
	}
	err := g.CheckRPM("p1", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	var qerr *domain.QuotaError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, domain.QuotaKindRPM, qerr.Kind)
}

func TestCheckRPM_UnlimitedWhenLimitZero(t *testing.T) {
	g := newTestGate(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, g.CheckRPM("p1", 0))
	}
}

func TestCheckRPM_SeparatePrincipalsDoNotShareWindow(t *testing.T) {
	g := newTestGate(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, g.CheckRPM("p1", 3))
	}
	require.NoError(t, g.CheckRPM("p2", 3))
}

func TestCheckRPM_NewWindowResetsCount(t *testing.T) {
	current := time.Unix(0, 0)
	g := &Gate{windows: make(map[windowKey]int), stop: make(chan struct{}), now: func() time.Time { return current }}
	defer g.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.CheckRPM("p1", 3))
	}
	require.Error(t, g.CheckRPM("p1", 3))

	current = current.Add(time.Minute)
	require.NoError(t, g.CheckRPM("p1", 3))
}

func TestCheckTokenQuota_RejectsWhenUsedReachesQuota(t *testing.T) {
	g := newTestGate(t)
	require.NoError(t, g.CheckTokenQuota(5, 10))
	err := g.CheckTokenQuota(10, 10)
	require.Error(t, err)
	var qerr *domain.QuotaError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, domain.QuotaKindToken, qerr.Kind)
}

func TestCheckTokenQuota_AdvisoryWhenQuotaZero(t *testing.T) {
	g := newTestGate(t)
	require.NoError(t, g.CheckTokenQuota(1_000_000, 0))
}

func TestSweep_RemovesStaleWindows(t *testing.T) {
	current := time.Unix(0, 0)
	g := &Gate{windows: make(map[windowKey]int), stop: make(chan struct{}), now: func() time.Time { return current }}
	defer g.Stop()

	require.NoError(t, g.CheckRPM("p1", 100))
	assert.Len(t, g.windows, 1)

	current = current.Add(10 * time.Minute)
	g.sweep()
	assert.Empty(t, g.windows)
}

func TestCheckRPM_ConcurrentAccessIsRaceFree(t *testing.T) {
	g := newTestGate(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.CheckRPM("shared", 1000)
		}()
	}
	wg.Wait()
}
