// Package quota implements the RPM-window and token-quota admission checks
// fronting the chat usecases: a single mutex-guarded map of per-minute windows
// with a background sweep of stale windows.
package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/lowart/gateway/internal/domain"
)

const (
	windowSize      = time.Minute
	sweepInterval   = 30 * time.Second
	windowStaleness = 2 * time.Minute
)

type windowKey struct {
	principalID string
	windowStart int64
}

// Gate tracks per-principal, per-minute request counts and enforces both the
// RPM limit and an advisory token-quota check.
type Gate struct {
	mu      sync.Mutex
	windows map[windowKey]int

	stop chan struct{}
	now  func() time.Time
}

// New constructs a Gate and starts its background sweep goroutine.
func New() *Gate {
	g := &Gate{
		windows: make(map[windowKey]int),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go g.sweepLoop()
	return g
}

// CheckRPM increments the current minute's request count for principalID and
// rejects once it exceeds limit. A limit of 0 or less means unlimited.
func (g *Gate) CheckRPM(principalID string, limit int) error {
	if limit <= 0 {
		return nil
	}
	key := windowKey{principalID: principalID, windowStart: g.now().Unix() / int64(windowSize.Seconds())}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.windows[key]++
	if g.windows[key] > limit {
		return fmt.Errorf("op=quota.CheckRPM: %w", &domain.QuotaError{Kind: domain.QuotaKindRPM})
	}
	return nil
}

// CheckTokenQuota is an advisory, best-effort check: it does not itself track
// usage, only compares the caller-supplied used/quota pair.
func (g *Gate) CheckTokenQuota(used, quota int64) error {
	if quota <= 0 {
		return nil
	}
	if used >= quota {
		return fmt.Errorf("op=quota.CheckTokenQuota: %w", &domain.QuotaError{Kind: domain.QuotaKindToken})
	}
	return nil
}

// Stop terminates the background sweep goroutine.
func (g *Gate) Stop() {
	close(g.stop)
}

func (g *Gate) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stop:
			return
		}
	}
}

func (g *Gate) sweep() {
	cutoff := g.now().Add(-windowStaleness).Unix() / int64(windowSize.Seconds())

	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.windows {
		if key.windowStart < cutoff {
			delete(g.windows, key)
		}
	}
}

var _ domain.QuotaGate = (*Gate)(nil)
