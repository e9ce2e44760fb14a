// Package citations turns inline source references in generated text into a
// normalized, grounded citation list.
//
// Recognition and resolution are separate steps: patterns first produce
// candidate spans, then every span is resolved against the retrieved hits at
// a single boundary. A span that cannot be grounded in a hit is left in the
// text verbatim and produces no citation, so the output never cites a
// document that was not actually retrieved.
package citations

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

// Inline span patterns emitted by the generation prompt, most specific
// first: (Source: Doc, Page N), [Source: Doc, p. N], (Doc, Page N).
var spanPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\(Source:\s*([^,]+),\s*Page\s+(\d+)\)`),
	regexp.MustCompile(`(?i)\[Source:\s*([^,]+),\s*p\.\s*(\d+)\]`),
	regexp.MustCompile(`(?i)\(([^,:]+),\s*Page\s+(\d+)\)`),
}

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// span is one recognized inline reference before resolution.
type span struct {
	start, end int
	doc        string
	page       int
	raw        string
}

// Extract recognizes inline citation spans in generated text, resolves them
// against hits and replaces resolved spans with [n] markers.
//
// Resolution requires an exact (document name, page number) match against a
// hit; names compare trimmed and case-insensitively. Unresolved or malformed
// spans stay in the text untouched and never produce a citation. Spans
// resolving to the same document and page share one index, first seen wins.
// Indices count up from 1 in order of first appearance with no gaps.
func Extract(generated string, hits []core.SearchHit) (string, []core.Citation) {
	spans := scanSpans(generated)
	if len(spans) == 0 {
		return generated, nil
	}

	var (
		cites   []core.Citation
		indexOf = make(map[string]int) // doc|page -> assigned index
		b       strings.Builder
		pos     int
	)
	for _, s := range spans {
		hit, ok := resolve(s, hits)
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(hit.DocumentName)) + "|" + strconv.Itoa(s.page)
		idx, seen := indexOf[key]
		if !seen {
			idx = len(cites) + 1
			indexOf[key] = idx
			cites = append(cites, core.Citation{
				Index:        idx,
				DocumentName: hit.DocumentName,
				PageNumber:   s.page,
				RawMatch:     s.raw,
			})
		}
		b.WriteString(generated[pos:s.start])
		b.WriteString("[" + strconv.Itoa(idx) + "]")
		pos = s.end
	}
	b.WriteString(generated[pos:])
	return b.String(), cites
}

// scanSpans runs every pattern over the text and returns non-overlapping
// spans ordered left to right. When patterns overlap, the earlier pattern in
// spanPatterns wins.
func scanSpans(text string) []span {
	var spans []span
	for _, re := range spanPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			page, err := strconv.Atoi(text[m[4]:m[5]])
			if err != nil || page < 1 {
				continue
			}
			spans = append(spans, span{
				start: m[0],
				end:   m[1],
				doc:   strings.TrimSpace(text[m[2]:m[3]]),
				page:  page,
				raw:   text[m[0]:m[1]],
			})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	out := spans[:0]
	lastEnd := -1
	for _, s := range spans {
		if s.start < lastEnd {
			continue
		}
		out = append(out, s)
		lastEnd = s.end
	}
	return out
}

// resolve finds the hit exactly matching the span's document name and page.
func resolve(s span, hits []core.SearchHit) (core.SearchHit, bool) {
	for _, h := range hits {
		if h.PageNumber == s.page && strings.EqualFold(strings.TrimSpace(h.DocumentName), s.doc) {
			return h, true
		}
	}
	return core.SearchHit{}, false
}

// Assemble copies the normalized text, citations and included images into an
// AssembledResponse and verifies the marker/citation invariant. A violation
// reports an internal defect upstream of assembly; it is never a user-facing
// condition.
func Assemble(normalized string, cites []core.Citation, included []core.ImageCandidate) (core.AssembledResponse, error) {
	if err := verifyMarkers(normalized, len(cites)); err != nil {
		return core.AssembledResponse{}, err
	}
	resp := core.AssembledResponse{
		Text:      normalized,
		Citations: append([]core.Citation(nil), cites...),
		Images:    append([]core.ImageCandidate(nil), included...),
	}
	return resp, nil
}

// verifyMarkers checks that [n] markers and the citation list agree 1:1:
// every marker lands inside 1..count and every index in 1..count is
// referenced at least once.
func verifyMarkers(text string, count int) error {
	referenced := make(map[int]bool, count)
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n < 1 || n > count {
			return fmt.Errorf("%w: marker [%d] has no citation entry (%d citations)", core.ErrCitationConsistency, n, count)
		}
		referenced[n] = true
	}
	for n := 1; n <= count; n++ {
		if !referenced[n] {
			return fmt.Errorf("%w: citation %d is never referenced in the text", core.ErrCitationConsistency, n)
		}
	}
	return nil
}
