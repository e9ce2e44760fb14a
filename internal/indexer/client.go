// Package indexer orchestrates the external search service's ingestion
// pipeline: uploading manual PDFs to blob storage, triggering and watching
// indexer runs, validating the deployed components, and running scheduled
// refreshes. OCR, chunking and embedding all happen inside the service's
// skillset; this package only drives and observes it.
package indexer

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
)

// Client talks to the search service's management plane.
type Client struct {
	endpoint   string
	apiKey     string
	name       string // indexer name
	skillset   string
	dataSource string
	index      string
	apiVersion string
	httpClient *http.Client
	logger     *log.Logger
}

func NewClient(cfg config.IndexerConfig, index string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		name:       cfg.Name,
		skillset:   cfg.Skillset,
		dataSource: cfg.DataSource,
		index:      index,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     log.New(log.Writer(), "[INDEXER] ", log.LstdFlags),
	}
}

// ExecutionResult is one indexer execution from the service's history.
type ExecutionResult struct {
	Status          string    `json:"status"` // success, inProgress, transientFailure, reset
	ErrorMessage    string    `json:"errorMessage"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	ItemsProcessed  int       `json:"itemCount"`
	ItemsFailed     int       `json:"failedItemCount"`
	Errors          []Issue   `json:"errors"`
	Warnings        []Issue   `json:"warnings"`
}

// Issue is one error or warning attached to an execution.
type Issue struct {
	Key     string `json:"key"`
	Message string `json:"errorMessage"`
	Name    string `json:"name"`
	Details string `json:"details"`
}

// Status is the indexer's current state plus its execution history,
// newest first.
type Status struct {
	Name             string            `json:"name"`
	State            string            `json:"status"`
	LastResult       *ExecutionResult  `json:"lastResult"`
	ExecutionHistory []ExecutionResult `json:"executionHistory"`
}

// Run triggers an indexer run. The service queues it; progress is observed
// through GetStatus.
func (c *Client) Run(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/indexers/%s/run", c.name), nil)
	if err != nil {
		return fmt.Errorf("trigger indexer %s: %w", c.name, err)
	}
	defer resp.Body.Close()
	// 202 on queued; some API versions return 204.
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("trigger indexer %s: %s", c.name, readError(resp))
	}
	c.logger.Printf("indexer %s run triggered", c.name)
	return nil
}

// Reset clears the indexer's change-tracking state so the next run
// reprocesses every document.
func (c *Client) Reset(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/indexers/%s/reset", c.name), nil)
	if err != nil {
		return fmt.Errorf("reset indexer %s: %w", c.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reset indexer %s: %s", c.name, readError(resp))
	}
	c.logger.Printf("indexer %s reset", c.name)
	return nil
}

// GetStatus reads the indexer's current status and execution history.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/indexers/%s/status", c.name), nil)
	if err != nil {
		return Status{}, fmt.Errorf("indexer %s status: %w", c.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("indexer %s status: %s", c.name, readError(resp))
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("decode indexer status: %w", err)
	}
	return st, nil
}

// WaitForCompletion polls until the current run leaves the in-progress
// state or the timeout elapses. It returns the final execution result.
func (c *Client) WaitForCompletion(ctx context.Context, interval, timeout time.Duration) (ExecutionResult, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.GetStatus(ctx)
		if err != nil {
			return ExecutionResult{}, err
		}
		if st.LastResult != nil && st.LastResult.Status != "inProgress" {
			c.logger.Printf("indexer %s finished: status=%s processed=%d failed=%d",
				c.name, st.LastResult.Status, st.LastResult.ItemsProcessed, st.LastResult.ItemsFailed)
			return *st.LastResult, nil
		}
		if time.Now().After(deadline) {
			return ExecutionResult{}, fmt.Errorf("indexer %s did not complete within %v", c.name, timeout)
		}
		select {
		case <-ctx.Done():
			return ExecutionResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunAndWait triggers a run and blocks until it completes.
func (c *Client) RunAndWait(ctx context.Context, interval, timeout time.Duration) (ExecutionResult, error) {
	if err := c.Run(ctx); err != nil {
		return ExecutionResult{}, err
	}
	return c.WaitForCompletion(ctx, interval, timeout)
}

// FormatResult renders an execution result for logs and CLI output.
func FormatResult(res ExecutionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\n", res.Status)
	if !res.StartTime.IsZero() {
		fmt.Fprintf(&b, "started: %s\n", res.StartTime.Format(time.RFC3339))
	}
	if !res.EndTime.IsZero() {
		fmt.Fprintf(&b, "ended: %s (took %v)\n", res.EndTime.Format(time.RFC3339), res.EndTime.Sub(res.StartTime).Round(time.Second))
	}
	fmt.Fprintf(&b, "items: %d processed, %d failed\n", res.ItemsProcessed, res.ItemsFailed)
	if res.ErrorMessage != "" {
		fmt.Fprintf(&b, "error: %s\n", res.ErrorMessage)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(&b, "  error [%s]: %s\n", e.Key, e.Message)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "  warning [%s]: %s\n", w.Key, w.Message)
	}
	return b.String()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := fmt.Sprintf("%s%s?api-version=%s", c.endpoint, path, c.apiVersion)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func readError(resp *http.Response) string {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
}
