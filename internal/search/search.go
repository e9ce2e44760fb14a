// Package search provides retriever clients over the external hybrid search
// service. Ranking (keyword + vector + semantic) is entirely the service's
// responsibility; the returned order is trusted and passed through untouched.
package search

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

// Params describes one retrieval call.
type Params struct {
	Query  string // effective query text
	Filter string // optional metadata filter in the backend's grammar
	TopK   int    // 0 means the configured default
}

// Searcher issues a hybrid query and returns scored chunks in rank order.
type Searcher interface {
	Search(ctx context.Context, p Params) ([]core.SearchHit, error)
}

// Embedder produces query vectors for backends that need client-side
// embedding. The azure backend embeds service-side and ignores it.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewSearcher builds the configured retriever backend.
func NewSearcher(cfg config.SearchConfig, embedder Embedder) (Searcher, error) {
	switch cfg.Provider {
	case "azure":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("search.endpoint not set")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("search.api_key not set")
		}
		return NewAzureSearcher(cfg), nil
	case "qdrant":
		if cfg.QdrantAddr == "" {
			return nil, fmt.Errorf("search.qdrant_addr not set")
		}
		if embedder == nil {
			return nil, fmt.Errorf("qdrant backend requires an embedder")
		}
		return NewQdrantSearcher(cfg, embedder)
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Provider)
	}
}
