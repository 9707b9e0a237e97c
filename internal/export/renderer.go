package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/domain"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat parses a format name case-insensitively. An empty name means PDF.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", domain.NewValidationError("format", fmt.Sprintf("unsupported export format %q", s))
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatDOCX {
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/pdf"
}

// PDFEngine draws a layout as PDF bytes.
type PDFEngine interface {
	RenderPDF(ctx context.Context, l Layout) ([]byte, error)
}

// Artifact is one rendered file.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Renderer turns review documents into downloadable files.
type Renderer struct {
	pdf PDFEngine
}

// NewRenderer builds a Renderer with the PDF engine named in cfg.
func NewRenderer(cfg config.ExportConfig) (*Renderer, error) {
	switch cfg.PDFEngine {
	case "", config.PDFEngineFPDF:
		return &Renderer{pdf: FPDFEngine{}}, nil
	case config.PDFEngineChrome:
		return &Renderer{pdf: ChromeEngine{Timeout: cfg.ChromeTimeout}}, nil
	default:
		return nil, fmt.Errorf("unsupported pdf engine %q", cfg.PDFEngine)
	}
}

// NewRendererWithEngine builds a Renderer around a specific PDF engine.
func NewRendererWithEngine(engine PDFEngine) *Renderer {
	return &Renderer{pdf: engine}
}

// Render renders doc in the given format. The file is named
// review_<tracking_id>.<format>.
func (r *Renderer) Render(ctx context.Context, doc *domain.ReviewDocument, format Format) (*Artifact, error) {
	if doc == nil {
		return nil, domain.NewValidationError("document", "document is required")
	}
	layout := BuildLayout(doc)

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatPDF:
		data, err = r.pdf.RenderPDF(ctx, layout)
	case FormatDOCX:
		data, err = RenderDOCX(layout, doc.CreatedAt)
	default:
		return nil, domain.NewValidationError("format", fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", format, err)
	}

	return &Artifact{
		Filename:    fmt.Sprintf("review_%s.%s", doc.TrackingID, format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}
