package pdfgen

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestManualTemplate(t *testing.T) {
	t.Parallel()
	m := SampleManual("California")
	var buf bytes.Buffer
	if err := manualTemplate.Execute(&buf, m); err != nil {
		t.Fatalf("execute template: %v", err)
	}
	html := buf.String()
	if !strings.Contains(html, "California Driver Handbook") {
		t.Fatalf("title missing:\n%s", html)
	}
	for _, s := range m.Sections {
		if !strings.Contains(html, "<h2>"+s.Title+"</h2>") {
			t.Errorf("section %q missing", s.Title)
		}
	}
}

func TestManualTemplateEscapes(t *testing.T) {
	t.Parallel()
	m := Manual{State: "Texas", Sections: []Section{{Title: "<script>", Body: "a & b"}}}
	var buf bytes.Buffer
	if err := manualTemplate.Execute(&buf, m); err != nil {
		t.Fatalf("execute template: %v", err)
	}
	if strings.Contains(buf.String(), "<script>") {
		t.Fatal("section title not escaped")
	}
}

func TestFromManualValidation(t *testing.T) {
	t.Parallel()
	g := New()
	if err := g.FromManual(context.Background(), Manual{}, "out.pdf"); err == nil {
		t.Fatal("expected error for empty manual")
	}
	if err := g.FromManual(context.Background(), Manual{State: "Ohio"}, "out.pdf"); err == nil {
		t.Fatal("expected error for manual without sections")
	}
}
