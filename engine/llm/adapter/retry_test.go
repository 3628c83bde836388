package llmadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyClient struct {
	errs  []error
	calls int
}

func (f *flakyClient) GenerateContent(context.Context, *LLMRequest) (*LLMResponse, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return &LLMResponse{Content: "ok"}, nil
}

func (f *flakyClient) Close() error { return nil }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		status    int
		retryable bool
	}{
		{name: "Should read a 429 status", err: errors.New("API returned unexpected status code: 429"), code: ErrCodeRateLimited, status: 429, retryable: true},
		{name: "Should treat 5xx as unavailable", err: errors.New("status code: 503 overloaded"), code: ErrCodeUnavailable, status: 503, retryable: true},
		{name: "Should not retry auth failures", err: errors.New("status code: 401 invalid api key"), code: ErrCodeUnauthorized, status: 401},
		{name: "Should prefer quota over rate limit", err: errors.New("insufficient_quota: rate limit"), code: ErrCodeQuotaExceeded},
		{name: "Should classify connection resets", err: errors.New("read tcp: connection reset by peer"), code: ErrCodeConnection, retryable: true},
		{name: "Should leave unknown errors unretried", err: errors.New("bad tool schema"), code: ErrCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pe *ProviderError
			require.ErrorAs(t, ClassifyError("openai", tt.err), &pe)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.retryable, pe.Retryable())
			assert.ErrorIs(t, pe, tt.err)
		})
	}

	t.Run("Should pass caller cancellation through", func(t *testing.T) {
		assert.Equal(t, context.Canceled, ClassifyError("openai", context.Canceled))
		assert.NoError(t, ClassifyError("openai", nil))
	})
}

func TestRetryingClient(t *testing.T) {
	t.Run("Should retry transient failures until success", func(t *testing.T) {
		next := &flakyClient{errs: []error{errors.New("status code: 429"), errors.New("timed out")}}
		c := NewRetryingClient(next, "openai", RetryConfig{Attempts: 3, Backoff: time.Millisecond})
		resp, err := c.GenerateContent(t.Context(), &LLMRequest{})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 3, next.calls)
	})

	t.Run("Should stop at the attempt limit", func(t *testing.T) {
		next := &flakyClient{errs: []error{
			errors.New("status code: 500"), errors.New("status code: 500"), errors.New("status code: 500"),
		}}
		c := NewRetryingClient(next, "openai", RetryConfig{Attempts: 2, Backoff: time.Millisecond})
		_, err := c.GenerateContent(t.Context(), &LLMRequest{})
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, ErrCodeUnavailable, pe.Code)
		assert.Equal(t, 2, next.calls)
	})

	t.Run("Should not retry permanent failures", func(t *testing.T) {
		next := &flakyClient{errs: []error{errors.New("status code: 401")}}
		c := NewRetryingClient(next, "anthropic", RetryConfig{Attempts: 5, Backoff: time.Millisecond})
		_, err := c.GenerateContent(t.Context(), &LLMRequest{})
		require.Error(t, err)
		assert.Equal(t, 1, next.calls)
	})
}
