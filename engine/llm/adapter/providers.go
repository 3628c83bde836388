package llmadapter

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderOllama    ProviderName = "ollama"
)

// ProviderConfig selects and authenticates a model provider.
type ProviderConfig struct {
	Provider ProviderName
	Model    string
	APIKey   string
	BaseURL  string
}

// NewModel builds the langchaingo model for cfg.
func NewModel(cfg ProviderConfig) (llms.Model, error) {
	switch ProviderName(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI:
		return newOpenAI(cfg, "")
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	case ProviderOllama:
		return newOllama(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// NewClient builds an LLMClient for cfg.
func NewClient(cfg ProviderConfig) (LLMClient, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM model: %w", err)
	}
	return NewLangChainAdapter(model), nil
}

// NewEmbedder builds a query embedder. Anthropic has no embeddings endpoint.
func NewEmbedder(cfg ProviderConfig, embeddingModel string) (embeddings.Embedder, error) {
	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch ProviderName(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI:
		client, err = newOpenAI(cfg, embeddingModel)
	case ProviderOllama:
		cfg.Model = embeddingModel
		client, err = newOllama(cfg)
	default:
		return nil, fmt.Errorf("provider %s does not support embeddings", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	return embeddings.NewEmbedder(client)
}

func newOpenAI(cfg ProviderConfig, embeddingModel string) (*openai.LLM, error) {
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if embeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(embeddingModel))
	}
	return openai.New(opts...)
}

func newOllama(cfg ProviderConfig) (*ollama.LLM, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	return ollama.New(opts...)
}
