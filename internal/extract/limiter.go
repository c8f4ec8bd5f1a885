package extract

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter hands out one token bucket per host.
type hostLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// newHostLimiter allows perSecond requests per host; perSecond <= 0 means unlimited.
func newHostLimiter(perSecond float64, burst int) *hostLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &hostLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *hostLimiter) get(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until host may be contacted or ctx is done.
func (h *hostLimiter) Wait(ctx context.Context, host string) error {
	return h.get(host).Wait(ctx)
}
