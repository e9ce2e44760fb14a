package highlight

import (
	"strings"
	"testing"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

func TestSnippets(t *testing.T) {
	t.Parallel()

	hits := []core.SearchHit{
		{ChunkID: "c1", Content: "Stop signs are octagonal and red. Always stop fully at the limit line."},
		{ChunkID: "c2", Content: "Parking on a hill requires turning the wheels toward the curb."},
	}
	frags, err := Snippets("stop sign", hits, 2)
	if err != nil {
		t.Fatalf("Snippets() error: %v", err)
	}
	if len(frags["c1"]) == 0 {
		t.Fatal("expected fragments for the matching chunk")
	}
	if !strings.Contains(frags["c1"][0], "<mark>") {
		t.Fatalf("fragment not highlighted: %q", frags["c1"][0])
	}
	if _, ok := frags["c2"]; ok {
		t.Fatal("non-matching chunk should produce no fragments")
	}
}

func TestSnippetsEmpty(t *testing.T) {
	t.Parallel()

	frags, err := Snippets("stop", nil, 2)
	if err != nil || frags != nil {
		t.Fatalf("Snippets(empty) = %v, %v; want nil, nil", frags, err)
	}
	frags, err = Snippets("", []core.SearchHit{{ChunkID: "c1", Content: "x"}}, 2)
	if err != nil || frags != nil {
		t.Fatalf("Snippets(no query) = %v, %v; want nil, nil", frags, err)
	}
}
