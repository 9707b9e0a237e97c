// Package extract converts acquired PDF and HTML sources into normalized plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// Sentinel errors for extraction.
var (
	// ErrUnsupported is returned for content that is neither PDF, HTML nor plain text.
	ErrUnsupported = errors.New("extract: unsupported content type")
	// ErrCorrupt is returned when the source cannot be parsed.
	ErrCorrupt = errors.New("extract: corrupt source")
	// ErrTooShort is returned when the normalized text is below the minimum length.
	ErrTooShort = errors.New("extract: not enough text")
)

// Config bounds extraction output.
type Config struct {
	// MaxPages is the number of leading PDF pages read. Default: 100.
	MaxPages int
	// MaxChars caps the normalized text in runes. Default: 100000.
	MaxChars int
	// MinChars is the shortest usable text in runes. Default: 200.
	MinChars int
}

// Extractor converts source bytes to text. It holds no state between calls.
type Extractor struct {
	cfg Config
}

// New creates an Extractor, filling zero Config fields with defaults.
func New(cfg Config) *Extractor {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 100000
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = 200
	}
	return &Extractor{cfg: cfg}
}

// Extract returns normalized text and the number of pages read.
// The same input always produces the same output.
func (e *Extractor) Extract(ctx context.Context, content []byte, contentType string) (string, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	var (
		raw   string
		pages int
		err   error
	)
	switch kindOf(content, contentType) {
	case kindPDF:
		raw, pages, err = e.pdfText(content)
	case kindHTML:
		raw, err = htmlText(content)
		pages = 1
	case kindText:
		raw, pages = string(content), 1
	default:
		return "", 0, fmt.Errorf("%w: %q", ErrUnsupported, contentType)
	}
	if err != nil {
		return "", 0, err
	}

	text := Normalize(raw, e.cfg.MaxChars)
	if n := utf8.RuneCountInString(text); n < e.cfg.MinChars {
		return "", pages, fmt.Errorf("%w: %d characters, need %d", ErrTooShort, n, e.cfg.MinChars)
	}
	return text, pages, nil
}

type kind int

const (
	kindUnknown kind = iota
	kindPDF
	kindHTML
	kindText
)

// kindOf trusts the magic bytes over the declared content type.
func kindOf(content []byte, contentType string) kind {
	if bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte("%PDF-")) {
		return kindPDF
	}
	ct := strings.ToLower(contentType)
	if ct == "" {
		ct = strings.ToLower(http.DetectContentType(content))
	}
	switch {
	case strings.Contains(ct, "application/pdf"):
		return kindPDF
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		return kindHTML
	case strings.HasPrefix(ct, "text/plain"):
		return kindText
	default:
		return kindUnknown
	}
}

func (e *Extractor) pdfText(content []byte) (text string, pages int, err error) {
	// The PDF reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, pages, err = "", 0, fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	n := r.NumPage()
	if n > e.cfg.MaxPages {
		n = e.cfg.MaxPages
	}

	var sb strings.Builder
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		s, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(s)
		sb.WriteString("\n\n")
		pages++
	}
	if pages == 0 {
		return "", 0, fmt.Errorf("%w: no readable pages", ErrCorrupt)
	}
	return sb.String(), pages, nil
}

// htmlText keeps the main article body when one is marked up.
func htmlText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	doc.Find("nav, footer, header, script, style, noscript, aside, form, .sidebar, .cookie-banner, .references, #references").Remove()

	body := doc.Find("article").First()
	for _, sel := range []string{"main", "#content", ".content", "body"} {
		if body.Length() > 0 {
			break
		}
		body = doc.Find(sel).First()
	}

	var paragraphs []string
	body.Find("h1, h2, h3, h4, p, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	})
	if len(paragraphs) == 0 {
		return body.Text(), nil
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

var (
	spaceRun = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// Normalize strips NUL bytes and invalid UTF-8, collapses horizontal
// whitespace, keeps paragraph breaks as a single blank line and caps the
// result at maxChars runes.
func Normalize(text string, maxChars int) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	text = blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	text = strings.TrimSpace(text)

	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:maxChars]))
	}
	return text
}
