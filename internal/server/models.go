package server

import (
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// AskAPIRequest is the request body for POST /api/ask.
type AskAPIRequest struct {
	Query         string `json:"query"`
	StateHint     string `json:"state_hint,omitempty"`
	ThreadID      string `json:"thread_id,omitempty"`
	TopK          int    `json:"top_k,omitempty"`
	DisableImages bool   `json:"disable_images,omitempty"`
	Stream        bool   `json:"stream,omitempty"`
}

// AskAPIResponse is the response body for POST /api/ask.
type AskAPIResponse struct {
	ID         string                `json:"id"`
	Answer     string                `json:"answer"`
	Citations  []core.Citation       `json:"citations"`
	Images     []core.ImageCandidate `json:"images"`
	Highlights map[string][]string   `json:"highlights,omitempty"`
	Model      string                `json:"model,omitempty"`
	TokensUsed int64                 `json:"tokens_used"`
	Cost       float64               `json:"cost"`
	CacheHit   bool                  `json:"cache_hit"`
	ElapsedMS  int64                 `json:"elapsed_ms"`
}

// CreateThreadRequest represents a new conversation thread payload.
type CreateThreadRequest struct {
	Title     string `json:"title"`
	StateHint string `json:"state_hint,omitempty"`
}

// UpdateThreadRequest changes a thread's state hint.
type UpdateThreadRequest struct {
	StateHint string `json:"state_hint"`
}

// DiagnoseSearchRequest is a raw retrieval passthrough for debugging the
// index without running generation.
type DiagnoseSearchRequest struct {
	Query  string `json:"query"`
	Filter string `json:"filter,omitempty"`
	State  string `json:"state,omitempty"` // convenience, builds the filter
	TopK   int    `json:"top_k,omitempty"`
}

// DiagnoseSearchResponse returns the raw hits.
type DiagnoseSearchResponse struct {
	Filter string           `json:"filter,omitempty"`
	Hits   []core.SearchHit `json:"hits"`
}
