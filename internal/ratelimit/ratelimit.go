package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/signalforge/signalforge/internal/model"
)

var (
	limitersMu sync.Mutex
	limiters   = make(map[string]*rate.Limiter)
)

// limiterFor returns the limiter shared by every collector for source name,
// creating it on first use. A later call with a different limit retunes it.
func limiterFor(name string, rl model.RateLimit) *rate.Limiter {
	limit := rate.Every(rl.Interval / time.Duration(rl.Requests))
	limitersMu.Lock()
	defer limitersMu.Unlock()
	l, ok := limiters[name]
	if !ok {
		l = rate.NewLimiter(limit, rl.Requests)
		limiters[name] = l
		return l
	}
	l.SetLimit(limit)
	l.SetBurst(rl.Requests)
	return l
}

// Collector is a decorator that waits on a token bucket before delegating to
// the wrapped Collector. Rebuilding a collector for the same source reuses
// the same bucket.
type Collector struct {
	inner   model.Collector
	limiter *rate.Limiter
}

// NewCollector allows rl.Requests fetches per rl.Interval for inner.
func NewCollector(inner model.Collector, rl model.RateLimit) *Collector {
	return &Collector{inner: inner, limiter: limiterFor(inner.Name(), rl)}
}

func (c *Collector) Name() string { return c.inner.Name() }

func (c *Collector) Configure(opts model.SourceOptions) error {
	if opts.RateLimit.Requests > 0 && opts.RateLimit.Interval > 0 {
		c.limiter = limiterFor(c.inner.Name(), opts.RateLimit)
	}
	return c.inner.Configure(opts)
}

// Fetch waits for the limiter to allow a request, then delegates.
func (c *Collector) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait for %s: %w", c.inner.Name(), err)
	}
	return c.inner.Fetch(ctx)
}
