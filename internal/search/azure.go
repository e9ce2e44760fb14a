package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

// AzureSearcher queries an Azure AI Search index over REST. The service
// performs keyword matching, vector similarity and semantic re-ranking in
// one call when a semantic configuration is set.
type AzureSearcher struct {
	endpoint   string
	apiKey     string
	index      string
	apiVersion string
	semantic   string
	topK       int
	httpClient *http.Client
	logger     *log.Logger
}

func NewAzureSearcher(cfg config.SearchConfig) *AzureSearcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AzureSearcher{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		index:      cfg.Index,
		apiVersion: cfg.APIVersion,
		semantic:   cfg.Semantic,
		topK:       cfg.TopK,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

type azureRequest struct {
	Search                string `json:"search"`
	Filter                string `json:"filter,omitempty"`
	Top                   int    `json:"top"`
	QueryType             string `json:"queryType,omitempty"`
	SemanticConfiguration string `json:"semanticConfiguration,omitempty"`
	Select                string `json:"select"`
}

type azureDoc struct {
	Score         float64  `json:"@search.score"`
	RerankerScore *float64 `json:"@search.rerankerScore"`
	ChunkID       string   `json:"chunk_id"`
	Content       string   `json:"content"`
	DocumentID    string   `json:"document_id"`
	DocumentName  string   `json:"document_name"`
	PageNumber    int      `json:"page_number"`
	ImageURLs     []string `json:"image_urls"`
}

// Search issues one hybrid query. Failures wrap core.ErrRetrieval; no
// partial results are synthesized.
func (s *AzureSearcher) Search(ctx context.Context, p Params) ([]core.SearchHit, error) {
	topK := p.TopK
	if topK <= 0 {
		topK = s.topK
	}
	body := azureRequest{
		Search: p.Query,
		Filter: p.Filter,
		Top:    topK,
		Select: "chunk_id,content,document_id,document_name,page_number,image_urls",
	}
	if s.semantic != "" {
		body.QueryType = "semantic"
		body.SemanticConfiguration = s.semantic
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", core.ErrRetrieval, err)
	}
	url := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s", s.endpoint, s.index, s.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", core.ErrRetrieval, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRetrieval, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%w: search returned status %d: %s", core.ErrRetrieval, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed struct {
		Value []azureDoc `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", core.ErrRetrieval, err)
	}

	hits := make([]core.SearchHit, 0, len(parsed.Value))
	for _, doc := range parsed.Value {
		// The semantic reranker score is the better relevance signal when
		// present; both are opaque to the pipeline either way.
		score := doc.Score
		if doc.RerankerScore != nil {
			score = *doc.RerankerScore
		}
		page := doc.PageNumber
		if page < 1 {
			page = 1
		}
		hits = append(hits, core.SearchHit{
			ChunkID:      doc.ChunkID,
			Content:      doc.Content,
			Score:        score,
			DocumentID:   doc.DocumentID,
			DocumentName: doc.DocumentName,
			PageNumber:   page,
			ImageURLs:    doc.ImageURLs,
		})
	}
	s.logger.Printf("query %q returned %d hits (filter=%q top=%d)", p.Query, len(hits), p.Filter, topK)
	return hits, nil
}
