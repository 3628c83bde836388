package llmadapter

import (
	"context"
	"errors"
	"time"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/sethvargo/go-retry"
)

type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
	MaxDelay time.Duration
	// Timeout bounds each attempt; zero leaves the caller's deadline alone.
	Timeout time.Duration
}

// RetryingClient retries transient provider failures with jittered
// exponential backoff. Non-retryable errors return on the first attempt.
type RetryingClient struct {
	next     LLMClient
	provider string
	cfg      RetryConfig
}

func NewRetryingClient(next LLMClient, provider string, cfg RetryConfig) *RetryingClient {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	return &RetryingClient{next: next, provider: provider, cfg: cfg}
}

func (c *RetryingClient) GenerateContent(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	log := logger.FromContext(ctx)
	backoff := retry.NewExponential(c.cfg.Backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(c.cfg.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(c.cfg.Attempts-1), backoff) // #nosec G115 -- attempts >= 1
	attempt := 0
	var resp *LLMResponse
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		}
		out, err := c.next.GenerateContent(callCtx, req)
		cancel()
		if err == nil {
			resp = out
			return nil
		}
		classified := ClassifyError(c.provider, err)
		var pe *ProviderError
		if errors.As(classified, &pe) && pe.Retryable() && attempt < c.cfg.Attempts {
			log.Warn("LLM call failed, retrying",
				"provider", c.provider, "attempt", attempt, "code", pe.Code, "error", core.RedactError(err))
			return retry.RetryableError(classified)
		}
		return classified
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *RetryingClient) Close() error {
	return c.next.Close()
}
