package openai_provider

import (
	"bufio"
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
	"github.com/mohammad-safakhou/roadbook/internal/helpers"
)

const defaultBaseURL = "https://api.openai.com/v1"

// AuthStyle selects how the API key is attached to requests.
type AuthStyle int

const (
	// AuthBearer sends Authorization: Bearer <key> (OpenAI).
	AuthBearer AuthStyle = iota
	// AuthAPIKey sends api-key: <key> (Azure OpenAI).
	AuthAPIKey
)

// client implements the provider interface using an OpenAI-compatible API
type client struct {
	apiKey         string
	baseURL        string
	chatModel      string
	judgeModel     string
	embeddingModel string
	temperature    float64
	topP           float64
	maxTokens      int
	costIn1K       float64
	costOut1K      float64
	auth           AuthStyle
	httpClient     *http.Client
	logger         *log.Logger
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a chat completion request
type request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	TopP           float64         `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// response represents a chat completion response
type response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg config.LLMConfig, auth AuthStyle) *client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	judgeModel := cfg.JudgeModel
	if judgeModel == "" {
		judgeModel = cfg.Model
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &client{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		chatModel:      cfg.Model,
		judgeModel:     judgeModel,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		topP:           cfg.TopP,
		maxTokens:      cfg.MaxTokens,
		costIn1K:       cfg.CostPer1KInput,
		costOut1K:      cfg.CostPer1KOutput,
		auth:           auth,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}
}

// GenerateAnswer produces an answer for the question over prior history.
func (c *client) GenerateAnswer(ctx context.Context, system string, history []core.Message, question string) (core.Generation, error) {
	req := request{
		Model:       c.chatModel,
		Messages:    buildMessages(system, history, question),
		Temperature: c.temperature,
		TopP:        c.topP,
		MaxTokens:   c.maxTokens,
	}
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return core.Generation{}, err
	}
	if len(resp.Choices) == 0 {
		return core.Generation{}, fmt.Errorf("no choices in response")
	}
	return c.generation(resp.Model, resp.Choices[0].Message.Content, resp.Usage), nil
}

// GenerateAnswerStream streams deltas through onDelta and returns the full
// accumulated generation.
func (c *client) GenerateAnswerStream(ctx context.Context, system string, history []core.Message, question string, onDelta func(string)) (core.Generation, error) {
	req := request{
		Model:         c.chatModel,
		Messages:      buildMessages(system, history, question),
		Temperature:   c.temperature,
		TopP:          c.topP,
		MaxTokens:     c.maxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	httpResp, err := c.post(ctx, c.baseURL+"/chat/completions", req)
	if err != nil {
		return core.Generation{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return core.Generation{}, fmt.Errorf("API returned status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var (
		b     strings.Builder
		model string
		u     usage
	)
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk struct {
			Model   string `json:"model"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *usage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Printf("skipping malformed stream chunk: %v", err)
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			u = *chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			b.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return core.Generation{}, fmt.Errorf("reading stream: %w", err)
	}
	if b.Len() == 0 {
		return core.Generation{}, fmt.Errorf("stream produced no content")
	}
	return c.generation(model, b.String(), u), nil
}

// JudgeImageRelevance asks the judge model to rate how much an image would
// help answer the query. Strict JSON is requested and parsed leniently.
func (c *client) JudgeImageRelevance(ctx context.Context, query, caption string) (float64, error) {
	system := `You are a classifier determining whether an image from a driving manual helps answer a question. Score how useful the image is for the question on a scale from 0.0 (useless) to 1.0 (essential). Visual topics like signs, signals, road markings, hand signals and positioning examples score high. Return ONLY strict JSON: {"score": <float>, "reason": "<short>"}.`
	user := fmt.Sprintf("Question: %s\n\nImage: %s", query, caption)

	req := request{
		Model: c.judgeModel,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		MaxTokens:      200,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return 0, err
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("no choices in response")
	}
	var parsed struct {
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	}
	raw := helpers.ExtractFirstJSON(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse judge verdict: %w", err)
	}
	return parsed.Score, nil
}

// CreateEmbedding generates embeddings for the given texts
func (c *client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.embeddingModel == "" {
		return nil, fmt.Errorf("llm.embedding_model not configured")
	}

	requestBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}
	resp, err := c.post(ctx, c.baseURL+"/embeddings", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp struct {
		Data []struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	vecs := make([][]float32, len(openaiResp.Data))
	for i, d := range openaiResp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func buildMessages(system string, history []core.Message, question string) []Message {
	messages := make([]Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	for _, m := range history {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, Message{Role: role, Content: m.Content})
	}
	messages = append(messages, Message{Role: "user", Content: question})
	return messages
}

func (c *client) generation(model, text string, u usage) core.Generation {
	if model == "" {
		model = c.chatModel
	}
	return core.Generation{
		Text:             text,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             float64(u.PromptTokens)/1000*c.costIn1K + float64(u.CompletionTokens)/1000*c.costOut1K,
	}
}

// sendRequest sends a chat completion request and decodes the response
func (c *client) sendRequest(ctx context.Context, req request) (*response, error) {
	resp, err := c.post(ctx, c.baseURL+"/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &openaiResp, nil
}

func (c *client) post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch c.auth {
	case AuthAPIKey:
		req.Header.Set("api-key", c.apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}
