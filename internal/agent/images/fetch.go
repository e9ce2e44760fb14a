package images

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

const defaultVerifyConcurrency = 4

// Verify probes candidate URLs concurrently and drops unreachable ones.
// Fetches are independent fan-out work with no ordering dependency between
// them; the returned slice restores the input order.
func Verify(ctx context.Context, client *http.Client, candidates []core.ImageCandidate, concurrency int) []core.ImageCandidate {
	if len(candidates) == 0 {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if concurrency <= 0 {
		concurrency = defaultVerifyConcurrency
	}

	reachable := make([]bool, len(candidates))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			reachable[i] = urlReachable(ctx, client, candidates[i].URL)
		}(i)
	}
	wg.Wait()

	out := make([]core.ImageCandidate, 0, len(candidates))
	for i, c := range candidates {
		if reachable[i] {
			out = append(out, c)
		}
	}
	return out
}

func urlReachable(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		// Some blob endpoints reject HEAD; try a ranged GET before giving up.
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		req.Header.Set("Range", "bytes=0-0")
		resp, err = client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
	}
	return resp.StatusCode < 400
}
