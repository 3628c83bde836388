package app

import (
	"errors"

	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/pkg/config"
)

func providerConfig(cfg *config.LLMConfig, model string) llmadapter.ProviderConfig {
	return llmadapter.ProviderConfig{
		Provider: llmadapter.ProviderName(cfg.Provider),
		Model:    model,
		APIKey:   cfg.APIKey.Value(),
		BaseURL:  cfg.BaseURL,
	}
}

// NewLLMClient builds the provider client for model wrapped as
// retry(rate limit(provider)), so every retry waits for its own slot.
func NewLLMClient(cfg *config.LLMConfig, model string) (llmadapter.LLMClient, error) {
	if cfg == nil {
		return nil, errors.New("llm config is required")
	}
	if model == "" {
		model = cfg.Model
	}
	base, err := llmadapter.NewClient(providerConfig(cfg, model))
	if err != nil {
		return nil, err
	}
	limited := llmadapter.NewRateLimitedClient(base, llmadapter.RateLimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxConcurrency:    cfg.MaxConcurrency,
	})
	return llmadapter.NewRetryingClient(limited, cfg.Provider, llmadapter.RetryConfig{
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff,
		Timeout:  cfg.Timeout,
	}), nil
}

// NewJudgeClient uses the judge model when one is configured.
func NewJudgeClient(cfg *config.LLMConfig) (llmadapter.LLMClient, error) {
	if cfg == nil {
		return nil, errors.New("llm config is required")
	}
	return NewLLMClient(cfg, cfg.JudgeModel)
}
