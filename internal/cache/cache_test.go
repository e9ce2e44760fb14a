package cache

import "testing"

func TestAskKey(t *testing.T) {
	t.Parallel()

	a := AskKey("stop sign", "state eq 'CA'", 5, "gpt-4o")
	b := AskKey("stop sign", "state eq 'CA'", 5, "gpt-4o")
	if a != b {
		t.Fatalf("AskKey is not deterministic: %q vs %q", a, b)
	}

	variants := []string{
		AskKey("stop sign", "state eq 'CA'", 5, "gpt-4o-mini"),
		AskKey("stop sign", "state eq 'CA'", 10, "gpt-4o"),
		AskKey("stop sign", "", 5, "gpt-4o"),
		AskKey("yield sign", "state eq 'CA'", 5, "gpt-4o"),
	}
	for i, v := range variants {
		if v == a {
			t.Fatalf("variant %d collides with base key", i)
		}
	}
}
