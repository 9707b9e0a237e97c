package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// DefaultChromeTimeout bounds one headless Chrome render.
const DefaultChromeTimeout = 60 * time.Second

// ChromeEngine prints the HTML form of the layout with headless Chrome.
// Requires Chrome or Chromium on the host.
type ChromeEngine struct {
	Timeout time.Duration
}

// RenderPDF implements PDFEngine.
func (e ChromeEngine) RenderPDF(ctx context.Context, l Layout) ([]byte, error) {
	html, err := RenderHTML(l)
	if err != nil {
		return nil, err
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultChromeTimeout
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var out []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				Do(ctx)
			out = buf
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome render failed: %w", err)
	}
	return out, nil
}

var htmlTemplate = template.Must(template.New("review").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; margin: 2cm; line-height: 1.5; font-size: 11pt; }
h1 { font-size: 20pt; margin-bottom: 0.2em; }
h2 { font-size: 14pt; margin-top: 1.4em; }
.meta { color: #555; font-size: 9pt; margin: 0; }
.note { font-style: italic; color: #444; }
.ref { font-size: 10pt; padding-left: 2em; text-indent: -2em; }
</style>
</head>
<body>
{{range .Blocks}}{{if eq .Kind 0}}<h1>{{.Text}}</h1>
{{else if eq .Kind 1}}<p class="meta">{{.Text}}</p>
{{else if eq .Kind 2}}<h2>{{.Text}}</h2>
{{else if eq .Kind 3}}<p>{{.Text}}</p>
{{else if eq .Kind 4}}<p class="note">{{.Text}}</p>
{{else if eq .Kind 5}}<p class="ref">{{.Text}}</p>
{{end}}{{end}}</body>
</html>
`))

// RenderHTML renders the layout as a standalone HTML page.
func RenderHTML(l Layout) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, l); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
