package llmadapter

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateLimitConfig throttles calls to one provider.
type RateLimitConfig struct {
	RequestsPerMinute float64
	MaxConcurrency    int64
}

// RateLimitedClient bounds in-flight calls with a semaphore and request rate with a token bucket.
// It is shared by every agent that talks to the same provider.
type RateLimitedClient struct {
	next    LLMClient
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	active atomic.Int32
	total  atomic.Int64
}

func NewRateLimitedClient(next LLMClient, cfg RateLimitConfig) *RateLimitedClient {
	c := &RateLimitedClient{next: next}
	if cfg.MaxConcurrency > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxConcurrency)
	}
	if cfg.RequestsPerMinute > 0 {
		perSecond := cfg.RequestsPerMinute / 60
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
	return c
}

func (c *RateLimitedClient) GenerateContent(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("llm concurrency slot: %w", err)
		}
		defer c.sem.Release(1)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm rate limit wait: %w", err)
		}
	}
	c.active.Add(1)
	defer c.active.Add(-1)
	c.total.Add(1)
	return c.next.GenerateContent(ctx, req)
}

func (c *RateLimitedClient) Close() error {
	return c.next.Close()
}

// Stats reports in-flight and total calls.
func (c *RateLimitedClient) Stats() (active int32, total int64) {
	return c.active.Load(), c.total.Load()
}
