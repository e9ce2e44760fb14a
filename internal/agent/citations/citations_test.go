package citations

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

func handbookHits() []core.SearchHit {
	return []core.SearchHit{
		{ChunkID: "c1", DocumentName: "CA Handbook", PageNumber: 45, Content: "Stop signs are octagonal."},
		{ChunkID: "c2", DocumentName: "CA Handbook", PageNumber: 12, Content: "Lane markings."},
		{ChunkID: "c3", DocumentName: "NY Handbook", PageNumber: 3, Content: "Right of way."},
	}
}

func TestExtractSingleSpan(t *testing.T) {
	t.Parallel()
	text := "A stop sign is an octagonal red sign. (Source: CA Handbook, Page 45)"
	got, cites := Extract(text, handbookHits())

	want := "A stop sign is an octagonal red sign. [1]"
	if got != want {
		t.Fatalf("Extract() text = %q, want %q", got, want)
	}
	if len(cites) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(cites))
	}
	c := cites[0]
	if c.Index != 1 || c.DocumentName != "CA Handbook" || c.PageNumber != 45 {
		t.Fatalf("unexpected citation %+v", c)
	}
	if c.RawMatch != "(Source: CA Handbook, Page 45)" {
		t.Fatalf("RawMatch = %q", c.RawMatch)
	}
}

func TestExtractDeduplicatesSameSource(t *testing.T) {
	t.Parallel()
	text := "Stop fully. (Source: CA Handbook, Page 45) Then proceed. (Source: CA Handbook, Page 45)"
	got, cites := Extract(text, handbookHits())

	if want := "Stop fully. [1] Then proceed. [1]"; got != want {
		t.Fatalf("Extract() text = %q, want %q", got, want)
	}
	if len(cites) != 1 {
		t.Fatalf("expected 1 citation after dedup, got %d", len(cites))
	}
}

func TestExtractLeavesUnresolvedSpanVerbatim(t *testing.T) {
	t.Parallel()
	text := "See the rules. (Source: Unknown Manual, Page 99)"
	got, cites := Extract(text, handbookHits())

	if got != text {
		t.Fatalf("unresolved span was altered: %q", got)
	}
	if len(cites) != 0 {
		t.Fatalf("unresolved span produced citations: %+v", cites)
	}
}

func TestExtractPatternVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		text     string
		wantText string
	}{
		{
			"square bracket form",
			"Markings guide you. [Source: CA Handbook, p. 12]",
			"Markings guide you. [1]",
		},
		{
			"bare parenthetical form",
			"Markings guide you. (CA Handbook, Page 12)",
			"Markings guide you. [1]",
		},
		{
			"case insensitive",
			"Markings guide you. (source: ca handbook, page 12)",
			"Markings guide you. [1]",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, cites := Extract(tt.text, handbookHits())
			if got != tt.wantText {
				t.Fatalf("Extract() text = %q, want %q", got, tt.wantText)
			}
			if len(cites) != 1 || cites[0].PageNumber != 12 {
				t.Fatalf("unexpected citations %+v", cites)
			}
		})
	}
}

func TestExtractMalformedSpansSkipped(t *testing.T) {
	t.Parallel()
	tests := []string{
		"Check the manual. (Source: CA Handbook)",
		"Check the manual. (Source: CA Handbook, Page )",
		"Check the manual. (Source: , Page 45)",
	}
	for _, text := range tests {
		got, cites := Extract(text, handbookHits())
		if got != text {
			t.Fatalf("malformed span altered: %q -> %q", text, got)
		}
		if len(cites) != 0 {
			t.Fatalf("malformed span produced citations: %+v", cites)
		}
	}
}

func TestExtractIndexOrderFollowsAppearance(t *testing.T) {
	t.Parallel()
	text := "Yield here. (Source: NY Handbook, Page 3) Lane lines matter. (Source: CA Handbook, Page 12) And again. (Source: NY Handbook, Page 3)"
	got, cites := Extract(text, handbookHits())

	if want := "Yield here. [1] Lane lines matter. [2] And again. [1]"; got != want {
		t.Fatalf("Extract() text = %q, want %q", got, want)
	}
	if len(cites) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(cites))
	}
	if cites[0].DocumentName != "NY Handbook" || cites[1].DocumentName != "CA Handbook" {
		t.Fatalf("citation order wrong: %+v", cites)
	}
	for i, c := range cites {
		if c.Index != i+1 {
			t.Fatalf("index gap at %d: %+v", i, cites)
		}
	}
}

func TestExtractNeverFabricates(t *testing.T) {
	t.Parallel()
	hits := handbookHits()
	text := "One. (Source: CA Handbook, Page 45) Two. (Source: CA Handbook, Page 46) Three. (Source: TX Handbook, Page 45)"
	_, cites := Extract(text, hits)

	valid := make(map[string]bool)
	for _, h := range hits {
		valid[strings.ToLower(h.DocumentName)+"|"+strconv.Itoa(h.PageNumber)] = true
	}
	for _, c := range cites {
		if !valid[strings.ToLower(c.DocumentName)+"|"+strconv.Itoa(c.PageNumber)] {
			t.Fatalf("fabricated citation %+v", c)
		}
	}
	if len(cites) != 1 {
		t.Fatalf("expected only the grounded span to resolve, got %+v", cites)
	}
}

func TestAssembleIdempotent(t *testing.T) {
	t.Parallel()
	hits := handbookHits()
	text, cites := Extract("Stop. (Source: CA Handbook, Page 45)", hits)
	imgs := []core.ImageCandidate{{URL: "https://img.example/stop.png", RelevanceScore: 1, Included: true}}

	first, err := Assemble(text, cites, imgs)
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	second, err := Assemble(text, cites, imgs)
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("assembly not idempotent: %+v vs %+v", first, second)
	}
}

func TestAssembleDetectsInconsistency(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		text  string
		cites []core.Citation
	}{
		{"orphan marker", "Stop. [2]", []core.Citation{{Index: 1, DocumentName: "CA Handbook", PageNumber: 45}}},
		{"unreferenced citation", "Stop.", []core.Citation{{Index: 1, DocumentName: "CA Handbook", PageNumber: 45}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Assemble(tt.text, tt.cites, nil)
			if !errors.Is(err, core.ErrCitationConsistency) {
				t.Fatalf("Assemble() error = %v, want ErrCitationConsistency", err)
			}
		})
	}
}

func TestAssembleEmptyInputs(t *testing.T) {
	t.Parallel()
	resp, err := Assemble("No sources needed here.", nil, nil)
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if resp.Text != "No sources needed here." || len(resp.Citations) != 0 || len(resp.Images) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}
