package fetch

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum delay between consecutive requests to the same
// host. Each pipeline worker owns one Pacer, so pacing is tracked per
// worker rather than globally and unrelated organizations do not serialize
// behind each other. Not safe for concurrent use.
type Pacer struct {
	delay    time.Duration
	limiters map[string]*rate.Limiter
}

// NewPacer creates a Pacer with the given per-host minimum delay. A zero
// or negative delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{
		delay:    delay,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host's spacing allows another request, or ctx ends.
func (p *Pacer) Wait(ctx context.Context, host string) error {
	if p == nil || p.delay <= 0 {
		return nil
	}
	lim, ok := p.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(p.delay), 1)
		p.limiters[host] = lim
	}
	return lim.Wait(ctx)
}
