// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostGate enforces crawl politeness per host: at most one in-flight request
// (a counting slot of size one) and a bounded request rate. Hosts are
// registered lazily on first use.
type HostGate struct {
	mu       sync.Mutex
	slots    map[string]chan struct{}
	limiters map[string]*rate.Limiter
	rps      rate.Limit
}

// NewHostGate builds a gate with the given per-host request rate. A
// non-positive rps disables rate limiting but keeps the in-flight cap.
func NewHostGate(rps float64) *HostGate {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &HostGate{
		slots:    make(map[string]chan struct{}),
		limiters: make(map[string]*rate.Limiter),
		rps:      limit,
	}
}

func (g *HostGate) host(host string) (chan struct{}, *rate.Limiter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.slots[host]
	if !ok {
		slot = make(chan struct{}, 1)
		g.slots[host] = slot
		g.limiters[host] = rate.NewLimiter(g.rps, 1)
	}
	return slot, g.limiters[host]
}

// Acquire blocks until the host's in-flight slot and a rate token are both
// available, or the context is cancelled. The returned release function must
// be called exactly once; callers defer it so the slot is freed on every
// path.
func (g *HostGate) Acquire(ctx context.Context, host string) (func(), error) {
	slot, limiter := g.host(host)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := limiter.Wait(ctx); err != nil {
		<-slot
		return nil, err
	}
	return func() { <-slot }, nil
}
