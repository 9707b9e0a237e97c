package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Section is one titled block of prose in a review document.
type Section struct {
	Heading    string   `json:"heading"`
	Paragraphs []string `json:"paragraphs"`
}

// Citation is one entry of a review document's reference list.
type Citation struct {
	// Number is the 1-based position of the citation in the list.
	Number    int    `json:"number"`
	PaperID   string `json:"paper_id"`
	InText    string `json:"in_text"`
	Reference string `json:"reference"`
	SourceURL string `json:"source_url,omitempty"`
}

// SynthesizedReview is the structured body returned by the completion service.
type SynthesizedReview struct {
	Sections []Section `json:"sections"`
	Model    string    `json:"model,omitempty"`
}

// ReviewDocument is the terminal artifact of a successful job. It is immutable once written.
type ReviewDocument struct {
	TrackingID uuid.UUID  `json:"tracking_id"`
	Title      string     `json:"title"`
	Topic      string     `json:"topic"`
	Sections   []Section  `json:"sections"`
	Citations  []Citation `json:"citations"`

	// Note explains omitted papers when some items failed. Empty otherwise.
	Note string `json:"note,omitempty"`

	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentTitle returns the title used for a review of the given topic.
func DocumentTitle(topic string) string {
	return "Literature Review: " + topic
}

// SynthesisInput is one summarized paper as presented to the synthesis call.
type SynthesisInput struct {
	// Number is the 1-based citation number the synthesized prose refers to.
	Number   int    `json:"number"`
	Citation string `json:"citation"`
	Title    string `json:"title"`
	Year     int    `json:"year,omitempty"`
	Summary  string `json:"summary"`
}

// SynthesisRequest is the single outbound request of the synthesis stage.
// Papers are ordered by discovery rank.
type SynthesisRequest struct {
	Topic  string           `json:"topic"`
	Prompt string           `json:"prompt,omitempty"`
	Papers []SynthesisInput `json:"papers"`
}

// Payload renders the numbered summary block embedded in the synthesis prompt.
// The same request always renders the same bytes.
func (r SynthesisRequest) Payload() string {
	var sb strings.Builder
	for i, p := range r.Papers {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s %s\n%s", p.Number, p.Citation, strings.TrimSpace(p.Title), strings.TrimSpace(p.Summary))
	}
	return sb.String()
}
