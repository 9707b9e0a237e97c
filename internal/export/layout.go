// Package export renders finished review documents as PDF or DOCX.
//
// Every format is produced from one Layout, so headings, paragraphs and the
// reference list appear in the same order whichever renderer runs.
package export

import (
	"fmt"
	"strings"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// BlockKind identifies how a layout block is styled.
type BlockKind int

// Block kinds in the order they can appear in a layout.
const (
	BlockTitle BlockKind = iota
	BlockMeta
	BlockHeading
	BlockParagraph
	BlockNote
	BlockReference
)

// Block is one styled run of text.
type Block struct {
	Kind BlockKind
	Text string
}

// Layout is the format-independent structure of a review document.
type Layout struct {
	Title  string
	Blocks []Block
}

// ReferencesHeading heads the citation list.
const ReferencesHeading = "References"

// BuildLayout flattens a document into blocks: title, metadata, sections in
// document order, the processing note, then the numbered references.
func BuildLayout(doc *domain.ReviewDocument) Layout {
	title := doc.Title
	if title == "" {
		title = domain.DocumentTitle(doc.Topic)
	}

	l := Layout{Title: title}
	l.add(BlockTitle, title)
	l.add(BlockMeta, "Topic: "+doc.Topic)
	if !doc.CreatedAt.IsZero() {
		l.add(BlockMeta, "Generated: "+doc.CreatedAt.UTC().Format("2 January 2006"))
	}

	for _, s := range doc.Sections {
		l.add(BlockHeading, s.Heading)
		for _, p := range s.Paragraphs {
			if p = strings.TrimSpace(p); p != "" {
				l.add(BlockParagraph, p)
			}
		}
	}

	if doc.Note != "" {
		l.add(BlockNote, doc.Note)
	}

	if len(doc.Citations) > 0 {
		l.add(BlockHeading, ReferencesHeading)
		for _, c := range doc.Citations {
			l.add(BlockReference, fmt.Sprintf("[%d] %s", c.Number, c.Reference))
		}
	}
	return l
}

func (l *Layout) add(kind BlockKind, text string) {
	l.Blocks = append(l.Blocks, Block{Kind: kind, Text: text})
}

// Headings returns the heading texts in layout order.
func (l Layout) Headings() []string {
	var out []string
	for _, b := range l.Blocks {
		if b.Kind == BlockHeading {
			out = append(out, b.Text)
		}
	}
	return out
}
