package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaperIdentifiers holds the identifiers a discovery source may report for a paper.
type PaperIdentifiers struct {
	DOI        string
	ArXivID    string
	PubMedID   string
	OpenAlexID string
}

// GenerateCanonicalID generates a canonical identifier from paper identifiers.
// Priority order: DOI > ArXiv > PubMed > OpenAlex
// Returns empty string if no identifiers are available.
func GenerateCanonicalID(ids PaperIdentifiers) string {
	if doi := strings.TrimSpace(ids.DOI); doi != "" {
		return "doi:" + strings.ToLower(doi)
	}

	if arxiv := strings.TrimSpace(ids.ArXivID); arxiv != "" {
		return "arxiv:" + arxiv
	}

	if pubmed := strings.TrimSpace(ids.PubMedID); pubmed != "" {
		return "pubmed:" + pubmed
	}

	if openalex := strings.TrimSpace(ids.OpenAlexID); openalex != "" {
		return "openalex:" + openalex
	}

	return ""
}

// Author represents a paper author with optional affiliation and ORCID.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// LastName returns the final whitespace-separated token of the author's name.
func (a Author) LastName() string {
	fields := strings.Fields(a.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// PaperCandidate is one discovery result. It is immutable once produced.
type PaperCandidate struct {
	// ExternalID is the canonical identifier of the paper (see GenerateCanonicalID).
	ExternalID string   `json:"external_id"`
	Title      string   `json:"title"`
	Authors    []Author `json:"authors,omitempty"`
	Year       int      `json:"year,omitempty"`
	DOI        string   `json:"doi,omitempty"`
	Venue      string   `json:"venue,omitempty"`
	Abstract   string   `json:"abstract,omitempty"`

	// SourceURL is the open-access full-text locator. Empty when none is known.
	SourceURL string `json:"source_url,omitempty"`

	// DiscoveryRank is the 0-based position in the discovery result.
	DiscoveryRank int `json:"discovery_rank"`
}

// ItemKey returns the stable key used for per-item records and logging.
func (c PaperCandidate) ItemKey() string {
	if c.ExternalID != "" {
		return c.ExternalID
	}
	return fmt.Sprintf("rank:%d", c.DiscoveryRank)
}

// InTextCitation formats the candidate as "(LastName et al., year)".
func (c PaperCandidate) InTextCitation() string {
	name := "Unknown"
	if len(c.Authors) > 0 && c.Authors[0].LastName() != "" {
		name = c.Authors[0].LastName()
	}
	if len(c.Authors) > 1 {
		name += " et al."
	}
	year := "n.d."
	if c.Year > 0 {
		year = fmt.Sprintf("%d", c.Year)
	}
	return fmt.Sprintf("(%s, %s)", name, year)
}

// Reference formats the candidate as an APA-style reference entry.
func (c PaperCandidate) Reference() string {
	var sb strings.Builder

	names := make([]string, 0, len(c.Authors))
	for i, a := range c.Authors {
		if i == 6 {
			names = append(names, "et al.")
			break
		}
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		names = append(names, "Unknown")
	}
	sb.WriteString(strings.Join(names, ", "))

	if c.Year > 0 {
		fmt.Fprintf(&sb, " (%d). ", c.Year)
	} else {
		sb.WriteString(" (n.d.). ")
	}

	sb.WriteString(strings.TrimSuffix(strings.TrimSpace(c.Title), "."))
	sb.WriteString(".")

	if c.Venue != "" {
		sb.WriteString(" ")
		sb.WriteString(c.Venue)
		sb.WriteString(".")
	}
	if c.DOI != "" {
		sb.WriteString(" https://doi.org/")
		sb.WriteString(c.DOI)
	}

	return sb.String()
}

// AcquiredSource is the outcome of fetching one candidate's full text.
// Exactly one of StorageKey or Failure is set.
type AcquiredSource struct {
	Candidate   PaperCandidate `json:"candidate"`
	StorageKey  string         `json:"storage_key,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	SizeBytes   int64          `json:"size_bytes,omitempty"`
	Attempts    int            `json:"attempts"`
	Failure     *ItemFailure   `json:"failure,omitempty"`
}

// OK reports whether the source was acquired.
func (s AcquiredSource) OK() bool { return s.Failure == nil }

// ExtractedText is the plain text converted from an acquired source.
type ExtractedText struct {
	Candidate PaperCandidate `json:"candidate"`
	Text      string         `json:"text,omitempty"`
	PageCount int            `json:"page_count,omitempty"`
	Failure   *ItemFailure   `json:"failure,omitempty"`
}

// OK reports whether text was extracted.
func (t ExtractedText) OK() bool { return t.Failure == nil }

// PaperSummary is the generated summary of one paper.
type PaperSummary struct {
	Candidate PaperCandidate `json:"candidate"`
	Summary   string         `json:"summary,omitempty"`
	Citation  string         `json:"citation,omitempty"`
	Segments  int            `json:"segments,omitempty"`
	Attempts  int            `json:"attempts"`
	Failure   *ItemFailure   `json:"failure,omitempty"`
}

// OK reports whether the paper was summarized.
func (s PaperSummary) OK() bool { return s.Failure == nil }

// ItemOutcome is the terminal state of one per-item record.
// These values must match the database enum item_outcome.
type ItemOutcome string

const (
	ItemOutcomeSucceeded ItemOutcome = "succeeded"
	ItemOutcomeFailed    ItemOutcome = "failed"
)

// ItemRecord is the durable per-item record written once an item reaches a terminal state
// inside an itemized stage. Records are keyed by (job, stage, item key).
type ItemRecord struct {
	TrackingID  uuid.UUID   `json:"tracking_id"`
	Stage       Stage       `json:"stage"`
	ItemKey     string      `json:"item_key"`
	Title       string      `json:"title,omitempty"`
	Outcome     ItemOutcome `json:"outcome"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Attempts    int         `json:"attempts"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewItemRecord builds the record for an item from its optional failure.
func NewItemRecord(trackingID uuid.UUID, stage Stage, c PaperCandidate, attempts int, failure *ItemFailure, now time.Time) ItemRecord {
	rec := ItemRecord{
		TrackingID: trackingID,
		Stage:      stage,
		ItemKey:    c.ItemKey(),
		Title:      c.Title,
		Outcome:    ItemOutcomeSucceeded,
		Attempts:   attempts,
		UpdatedAt:  now,
	}
	if failure != nil {
		rec.Outcome = ItemOutcomeFailed
		rec.FailureKind = failure.Kind
		rec.Reason = failure.Reason
	}
	return rec
}
