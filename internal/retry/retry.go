package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/signalforge/signalforge/internal/model"
)

// Collector is a decorator that retries transient failures with exponential
// backoff and jitter before delegating to the wrapped Collector.
type Collector struct {
	inner      model.Collector
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewCollector wraps a Collector with retry logic.
// maxRetries is the number of additional attempts after the first failure.
// baseDelay is the delay before the first retry, doubled on each subsequent retry.
func NewCollector(inner model.Collector, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Collector {
	return &Collector{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

func (c *Collector) Name() string { return c.inner.Name() }

// Configure picks up a new retry count and passes opts on.
func (c *Collector) Configure(opts model.SourceOptions) error {
	c.maxRetries = opts.RetryCount
	return c.inner.Configure(opts)
}

// Fetch attempts to fetch postings, retrying on transient errors.
func (c *Collector) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	postings, err := c.inner.Fetch(ctx)
	if err == nil {
		return postings, nil
	}
	if !isRetryable(err) {
		return nil, err
	}

	lastErr := err
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		delay := c.backoffDelay(attempt, lastErr)

		c.logger.Warn("retrying after transient error",
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"delay", delay,
			"error", lastErr,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		postings, err = c.inner.Fetch(ctx)
		if err == nil {
			return postings, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", c.maxRetries, lastErr)
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// If the error includes a Retry-After duration (HTTP 429), that takes precedence.
func (c *Collector) backoffDelay(attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := c.baseDelay << (attempt - 1)

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// isRetryable reports whether err is a transient failure worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	// Non-HTTP errors (network, DNS, etc.) are retryable.
	return true
}
