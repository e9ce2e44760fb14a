package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// indexSchema captures the shape a deployed index must have for the QA
// pipeline to work: the fields the retriever selects plus a vector field
// produced by the embedding skill.
const indexSchema = `{
  "type": "object",
  "required": ["name", "fields"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "fields": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string"},
          "type": {"type": "string"},
          "searchable": {"type": "boolean"},
          "filterable": {"type": "boolean"},
          "retrievable": {"type": "boolean"},
          "dimensions": {"type": "integer"}
        }
      }
    }
  }
}`

// requiredFields are the index fields every retrieval query selects.
var requiredFields = []string{
	"chunk_id", "content", "document_id", "document_name", "page_number", "image_urls", "state",
}

// Report is the outcome of a full pipeline validation.
type Report struct {
	IndexerExists   bool
	SkillsetExists  bool
	IndexExists     bool
	SchemaErrors    []string
	MissingFields   []string
	HasVectorField  bool
	DocumentCount   int64
	StorageBytes    int64
	SampledChunks   int
	ChunksWithText  int
	ChunksWithPages int
	ChunksWithImgs  int
	Problems        []string
}

// Healthy reports whether the pipeline is usable: all components deployed,
// schema valid, and at least one indexed document.
func (r Report) Healthy() bool {
	return r.IndexerExists && r.SkillsetExists && r.IndexExists &&
		len(r.SchemaErrors) == 0 && len(r.MissingFields) == 0 &&
		r.DocumentCount > 0
}

// Validate checks every deployed component of the ingestion pipeline and
// samples indexed content for field coverage.
func (c *Client) Validate(ctx context.Context) (Report, error) {
	var rep Report

	rep.IndexerExists = c.exists(ctx, fmt.Sprintf("/indexers/%s", c.name))
	if !rep.IndexerExists {
		rep.Problems = append(rep.Problems, fmt.Sprintf("indexer %q not found", c.name))
	}
	rep.SkillsetExists = c.exists(ctx, fmt.Sprintf("/skillsets/%s", c.skillset))
	if !rep.SkillsetExists {
		rep.Problems = append(rep.Problems, fmt.Sprintf("skillset %q not found", c.skillset))
	}

	definition, ok := c.fetch(ctx, fmt.Sprintf("/indexes/%s", c.index))
	rep.IndexExists = ok
	if !ok {
		rep.Problems = append(rep.Problems, fmt.Sprintf("index %q not found", c.index))
		return rep, nil
	}

	c.validateIndexDefinition(definition, &rep)
	if err := c.indexStats(ctx, &rep); err != nil {
		rep.Problems = append(rep.Problems, err.Error())
	}
	if rep.DocumentCount == 0 {
		rep.Problems = append(rep.Problems, "index contains no documents")
		return rep, nil
	}
	if err := c.sampleContent(ctx, &rep); err != nil {
		rep.Problems = append(rep.Problems, err.Error())
	}
	return rep, nil
}

func (c *Client) validateIndexDefinition(definition []byte, rep *Report) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(indexSchema),
		gojsonschema.NewBytesLoader(definition),
	)
	if err != nil {
		rep.SchemaErrors = append(rep.SchemaErrors, err.Error())
		return
	}
	for _, e := range result.Errors() {
		rep.SchemaErrors = append(rep.SchemaErrors, e.String())
	}

	var idx struct {
		Fields []struct {
			Name       string `json:"name"`
			Type       string `json:"type"`
			Dimensions int    `json:"dimensions"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(definition, &idx); err != nil {
		rep.SchemaErrors = append(rep.SchemaErrors, fmt.Sprintf("parse index definition: %v", err))
		return
	}
	present := make(map[string]bool, len(idx.Fields))
	for _, f := range idx.Fields {
		present[f.Name] = true
		if strings.HasPrefix(f.Type, "Collection(Edm.Single)") && f.Dimensions > 0 {
			rep.HasVectorField = true
		}
	}
	for _, name := range requiredFields {
		if !present[name] {
			rep.MissingFields = append(rep.MissingFields, name)
		}
	}
	if !rep.HasVectorField {
		rep.Problems = append(rep.Problems, "index has no vector field; hybrid retrieval will be keyword-only")
	}
}

func (c *Client) indexStats(ctx context.Context, rep *Report) error {
	body, ok := c.fetch(ctx, fmt.Sprintf("/indexes/%s/stats", c.index))
	if !ok {
		return fmt.Errorf("index %s stats unavailable", c.index)
	}
	var stats struct {
		DocumentCount int64 `json:"documentCount"`
		StorageSize   int64 `json:"storageSize"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		return fmt.Errorf("decode index stats: %w", err)
	}
	rep.DocumentCount = stats.DocumentCount
	rep.StorageBytes = stats.StorageSize
	return nil
}

// sampleContent pulls a handful of chunks and checks field coverage.
func (c *Client) sampleContent(ctx context.Context, rep *Report) error {
	payload, _ := json.Marshal(map[string]any{
		"search": "*",
		"top":    20,
		"select": "chunk_id,content,page_number,image_urls",
	})
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/indexes/%s/docs/search", c.index), payload)
	if err != nil {
		return fmt.Errorf("sample index content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sample index content: %s", readError(resp))
	}
	var result struct {
		Value []struct {
			Content    string   `json:"content"`
			PageNumber int      `json:"page_number"`
			ImageURLs  []string `json:"image_urls"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode content sample: %w", err)
	}
	rep.SampledChunks = len(result.Value)
	for _, doc := range result.Value {
		if strings.TrimSpace(doc.Content) != "" {
			rep.ChunksWithText++
		}
		if doc.PageNumber > 0 {
			rep.ChunksWithPages++
		}
		if len(doc.ImageURLs) > 0 {
			rep.ChunksWithImgs++
		}
	}
	if rep.SampledChunks > 0 && rep.ChunksWithText == 0 {
		rep.Problems = append(rep.Problems, "sampled chunks have no text content")
	}
	return nil
}

// FormatReport renders a validation report for CLI output.
func FormatReport(rep Report) string {
	var b strings.Builder
	check := func(ok bool, label string) {
		mark := "ok"
		if !ok {
			mark = "MISSING"
		}
		fmt.Fprintf(&b, "%-10s %s\n", mark, label)
	}
	check(rep.IndexerExists, "indexer")
	check(rep.SkillsetExists, "skillset")
	check(rep.IndexExists, "index")
	for _, e := range rep.SchemaErrors {
		fmt.Fprintf(&b, "schema: %s\n", e)
	}
	if len(rep.MissingFields) > 0 {
		fmt.Fprintf(&b, "missing fields: %s\n", strings.Join(rep.MissingFields, ", "))
	}
	fmt.Fprintf(&b, "documents: %d (%d bytes)\n", rep.DocumentCount, rep.StorageBytes)
	if rep.SampledChunks > 0 {
		fmt.Fprintf(&b, "sampled %d chunks: %d with text, %d with pages, %d with images\n",
			rep.SampledChunks, rep.ChunksWithText, rep.ChunksWithPages, rep.ChunksWithImgs)
	}
	for _, p := range rep.Problems {
		fmt.Fprintf(&b, "problem: %s\n", p)
	}
	if rep.Healthy() {
		b.WriteString("pipeline healthy\n")
	}
	return b.String()
}

func (c *Client) exists(ctx context.Context, path string) bool {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, bool) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, false
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
