package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
	openai_provider "github.com/mohammad-safakhou/roadbook/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI      Client = "openai"
	AzureOpenAI Client = "azure_openai"
	Anthropic   Client = "anthropic"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// GenerateAnswer produces a grounded answer for the question given prior
	// turns and the formatted retrieval context embedded in system.
	GenerateAnswer(ctx context.Context, system string, history []core.Message, question string) (core.Generation, error)

	// GenerateAnswerStream behaves like GenerateAnswer but emits text deltas
	// through onDelta as they arrive. The returned Generation carries the
	// full accumulated text.
	GenerateAnswerStream(ctx context.Context, system string, history []core.Message, question string, onDelta func(string)) (core.Generation, error)

	// JudgeImageRelevance classifies how much an image described by caption
	// would help answer query. The raw score may come back on a 0-10 scale;
	// callers normalize.
	JudgeImageRelevance(ctx context.Context, query, caption string) (float64, error)

	// CreateEmbedding embeds texts for vector retrieval backends.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		return openai_provider.NewClient(cfg, openai_provider.AuthBearer), nil
	case AzureOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		if cfg.BaseURL == "" {
			return nil, errors.New("llm.base_url required for azure_openai")
		}
		// Same wire protocol, api-key header instead of a bearer token.
		return openai_provider.NewClient(cfg, openai_provider.AuthAPIKey), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
