package core

import (
	"time"
)

// SearchHit represents one retrieved chunk from the hybrid search index.
// Hits are produced fresh per query, are immutable, and are discarded once
// the query completes; persistence of chunks belongs to the search service.
type SearchHit struct {
	ChunkID      string   `json:"chunk_id"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"` // opaque, higher-is-better
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	PageNumber   int      `json:"page_number"` // 1-based
	ImageURLs    []string `json:"image_urls,omitempty"`
}

// ImageCandidate represents an image surfaced from a SearchHit awaiting a
// relevance decision. Hit is a back-reference, not ownership.
type ImageCandidate struct {
	URL            string     `json:"url"`
	Hit            *SearchHit `json:"-"`
	Caption        string     `json:"caption,omitempty"`
	RelevanceScore float64    `json:"relevance_score"` // in [0,1], zero until scored
	Included       bool       `json:"included"`
}

// Citation represents a normalized reference extracted from generated text.
type Citation struct {
	Index        int    `json:"index"` // 1-based, order of first appearance
	DocumentName string `json:"document_name"`
	PageNumber   int    `json:"page_number"`
	RawMatch     string `json:"raw_match"`
}

// AssembledResponse is the final output unit of the pipeline.
//
// Invariant: every [n] marker in Text has a matching Citations[n-1] and every
// citation index appears at least once in Text (1:1, no gaps, no orphans).
type AssembledResponse struct {
	Text      string           `json:"text"`
	Citations []Citation       `json:"citations"`
	Images    []ImageCandidate `json:"images"`
}

// Message represents a single turn in a conversation thread.
type Message struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Generation represents one completed LLM generation call.
type Generation struct {
	Text             string  `json:"text"`
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// AskRequest represents one question posed to the pipeline.
type AskRequest struct {
	Query         string    `json:"query"`
	StateHint     string    `json:"state_hint,omitempty"`
	ThreadID      string    `json:"thread_id,omitempty"`
	History       []Message `json:"history,omitempty"`
	TopK          int       `json:"top_k,omitempty"` // 0 means configured default
	DisableImages bool      `json:"disable_images,omitempty"`
}

// StageTimings breaks a processed question down by pipeline stage.
type StageTimings struct {
	Retrieve     time.Duration `json:"retrieve"`
	Generate     time.Duration `json:"generate"`
	FilterImages time.Duration `json:"filter_images"`
	Citations    time.Duration `json:"citations"`
}

// AskResult represents the outcome of a successfully processed question.
type AskResult struct {
	ID         string            `json:"id"`
	Query      string            `json:"query"`
	Response   AssembledResponse `json:"response"`
	Hits       []SearchHit       `json:"hits,omitempty"`
	Model      string            `json:"model,omitempty"`
	TokensUsed int64             `json:"tokens_used"`
	Cost       float64           `json:"cost"`
	CacheHit   bool              `json:"cache_hit"`
	Elapsed    time.Duration     `json:"elapsed"`
	Stages     StageTimings      `json:"stages"`
	CreatedAt  time.Time         `json:"created_at"`
}
