package agent

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

const systemPromptTemplate = `You are a driving-manual assistant. Answer questions about driving rules, road signs and safe driving practices using ONLY the manual excerpts below.

Rules:
- Base every statement on the excerpts. If the excerpts do not cover the question, say so instead of guessing.
- After every claim taken from an excerpt, cite it inline as (Source: <document>, Page <n>) using the document name and page shown in the excerpt header.
- Keep answers concise and practical.
%s
Manual excerpts:
%s`

// SystemPrompt builds the generation system prompt over the retrieved
// context. The citation span format it mandates is the one the citation
// extractor recognizes.
func SystemPrompt(hits []core.SearchHit, stateHint string) string {
	stateLine := ""
	if stateHint != "" {
		stateLine = fmt.Sprintf("- The question concerns %s; prefer excerpts from that state's manual.\n", stateHint)
	}
	return fmt.Sprintf(systemPromptTemplate, stateLine, FormatContext(hits))
}

// FormatContext renders hits as numbered context blocks:
//
//	[1] Source: CA Handbook (Page 45)
//	Content: Stop signs are octagonal...
//
// separated by --- lines. Block order is retrieval order.
func FormatContext(hits []core.SearchHit) string {
	if len(hits) == 0 {
		return "No relevant information found in the driving manuals."
	}
	parts := make([]string, 0, len(hits))
	for i, h := range hits {
		parts = append(parts, fmt.Sprintf("[%d] Source: %s (Page %d)\nContent: %s", i+1, h.DocumentName, h.PageNumber, h.Content))
	}
	return strings.Join(parts, "\n---\n")
}
