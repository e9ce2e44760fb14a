// Package highlight renders query-term snippets over retrieved chunks so
// the API and CLI can show why a chunk matched. It builds a throwaway
// in-memory index per request; ranking and the pipeline contract are never
// affected by it.
package highlight

import (
	"fmt"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

type chunkDoc struct {
	Content string `json:"content"`
}

// Snippets returns highlighted HTML fragments per chunk ID for the hits
// that match the query terms. Chunks without a match are absent from the
// result. maxFragments caps fragments per chunk; <=0 means 2.
func Snippets(query string, hits []core.SearchHit, maxFragments int) (map[string][]string, error) {
	if len(hits) == 0 || query == "" {
		return nil, nil
	}
	if maxFragments <= 0 {
		maxFragments = 2
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("highlight index: %w", err)
	}
	defer idx.Close()

	for _, h := range hits {
		if err := idx.Index(h.ChunkID, chunkDoc{Content: h.Content}); err != nil {
			return nil, fmt.Errorf("index chunk %s: %w", h.ChunkID, err)
		}
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), len(hits), 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField("content")

	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("highlight search: %w", err)
	}

	out := make(map[string][]string, len(res.Hits))
	for _, hit := range res.Hits {
		frags := hit.Fragments["content"]
		if len(frags) == 0 {
			continue
		}
		if len(frags) > maxFragments {
			frags = frags[:maxFragments]
		}
		out[hit.ID] = frags
	}
	return out, nil
}
