// Package pdfgen renders driving-manual PDFs for seeding and testing the
// ingestion pipeline: either synthetic manuals built from an HTML template,
// or real pages fetched headlessly and cleaned before rendering.
package pdfgen

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
)

const DefaultTimeout = 60 * time.Second

// Section is one chapter of a synthetic manual.
type Section struct {
	Title string
	Body  string
}

// Manual describes a synthetic driving manual to render.
type Manual struct {
	State    string
	Year     string
	Sections []Section
}

var manualTemplate = template.Must(template.New("manual").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Georgia, serif; margin: 2em 3em; }
  h1 { text-align: center; }
  h2 { page-break-before: always; border-bottom: 1px solid #999; }
  h2:first-of-type { page-break-before: avoid; }
  p { line-height: 1.5; text-align: justify; }
</style>
</head>
<body>
<h1>{{.State}} Driver Handbook{{if .Year}} {{.Year}}{{end}}</h1>
{{range .Sections}}
<h2>{{.Title}}</h2>
<p>{{.Body}}</p>
{{end}}
</body>
</html>
`))

type Generator struct {
	Timeout time.Duration
}

func New() *Generator { return &Generator{Timeout: DefaultTimeout} }

// FromManual renders a synthetic manual to a PDF file.
func (g *Generator) FromManual(ctx context.Context, m Manual, outPath string) error {
	if m.State == "" {
		return errors.New("manual state is required")
	}
	if len(m.Sections) == 0 {
		return errors.New("manual has no sections")
	}
	var buf bytes.Buffer
	if err := manualTemplate.Execute(&buf, m); err != nil {
		return fmt.Errorf("render manual template: %w", err)
	}
	return g.FromHTML(ctx, buf.String(), outPath)
}

// FromURL fetches a page headlessly, strips it down to article content, and
// renders the cleaned content as a PDF.
func (g *Generator) FromURL(ctx context.Context, rawURL, outPath string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("invalid url")
	}
	html, err := g.fetchHTML(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return fmt.Errorf("extract content from %s: %w", rawURL, err)
	}
	cleaned := fmt.Sprintf("<html><head><meta charset=%q><title>%s</title></head><body><h1>%s</h1>%s</body></html>",
		"utf-8", template.HTMLEscapeString(article.Title), template.HTMLEscapeString(article.Title), article.Content)
	return g.FromHTML(ctx, cleaned, outPath)
}

// FromHTML renders raw HTML to a PDF file via headless Chrome.
func (g *Generator) FromHTML(ctx context.Context, html, outPath string) error {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(html))

	var pdf []byte
	err := chromedp.Run(bctx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("print to pdf: %w", err)
	}
	if err := os.WriteFile(outPath, pdf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}

func (g *Generator) fetchHTML(ctx context.Context, rawURL string) (string, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// SampleManual is a small synthetic manual useful for seeding a test index.
func SampleManual(state string) Manual {
	return Manual{
		State: state,
		Year:  fmt.Sprint(time.Now().Year()),
		Sections: []Section{
			{Title: "Traffic Signs", Body: "Regulatory signs tell you what you must or must not do. A stop sign is an eight-sided red sign with white letters. You must come to a complete stop at the limit line, crosswalk, or intersection edge."},
			{Title: "Right of Way", Body: "At an intersection without signs or signals, yield to vehicles already in the intersection and to vehicles arriving from your right. Always yield to pedestrians in a crosswalk."},
			{Title: "Speed Limits", Body: "Never drive faster than is safe for current conditions. The posted limit is the maximum under ideal conditions; rain, fog, and traffic require slower speeds."},
			{Title: "Parking Rules", Body: "Curb colors indicate parking rules. Red means no stopping, standing, or parking. Blue is reserved for persons with disabilities displaying a placard."},
		},
	}
}
