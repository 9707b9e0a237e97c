package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-pdf/fpdf"
)

// FPDFEngine draws the layout with go-pdf/fpdf using the core Helvetica font.
type FPDFEngine struct{}

// RenderPDF implements PDFEngine.
func (FPDFEngine) RenderPDF(_ context.Context, l Layout) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(l.Title, true)
	pdf.SetCreator("review-pipeline-service", true)

	// Core fonts are cp1252; the translator maps UTF-8 text into it.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	for _, b := range l.Blocks {
		switch b.Kind {
		case BlockTitle:
			pdf.SetFont("Helvetica", "B", 18)
			pdf.MultiCell(0, 9, tr(b.Text), "", "L", false)
			pdf.Ln(2)
		case BlockMeta:
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 5, tr(b.Text), "", "L", false)
		case BlockHeading:
			pdf.Ln(4)
			pdf.SetFont("Helvetica", "B", 13)
			pdf.MultiCell(0, 7, tr(b.Text), "", "L", false)
			pdf.Ln(1)
		case BlockParagraph:
			pdf.SetFont("Helvetica", "", 11)
			pdf.MultiCell(0, 5.5, tr(b.Text), "", "J", false)
			pdf.Ln(2)
		case BlockNote:
			pdf.Ln(2)
			pdf.SetFont("Helvetica", "I", 10)
			pdf.MultiCell(0, 5, tr(b.Text), "", "L", false)
		case BlockReference:
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, tr(b.Text), "", "L", false)
			pdf.Ln(1)
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("draw pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
