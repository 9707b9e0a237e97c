// Package openalex searches the OpenAlex catalog for review candidates.
//
// Only open-access works with an abstract are requested. Each work becomes a
// domain.PaperCandidate carrying the best known full-text locator.
//
// API Documentation: https://docs.openalex.org/
package openalex

import (
	"sort"
	"strings"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// worksPage is the subset of a /works response the client reads.
type worksPage struct {
	Results []work `json:"results"`
}

type work struct {
	ID          string `json:"id"`
	DOI         string `json:"doi"`
	Title       string `json:"title"`
	DisplayName string `json:"display_name"`
	Year        int    `json:"publication_year"`

	IDs struct {
		OpenAlex string `json:"openalex"`
		DOI      string `json:"doi"`
		PMID     string `json:"pmid"`
	} `json:"ids"`

	Authorships []authorship `json:"authorships"`

	OpenAccess *struct {
		OAURL string `json:"oa_url"`
	} `json:"open_access"`
	Primary *location `json:"primary_location"`
	BestOA  *location `json:"best_oa_location"`

	// word -> positions
	InvertedAbstract map[string][]int `json:"abstract_inverted_index"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
		ORCID       string `json:"orcid"`
	} `json:"author"`
	Institutions []struct {
		DisplayName string `json:"display_name"`
	} `json:"institutions"`
}

type location struct {
	PDFURL     string `json:"pdf_url"`
	LandingURL string `json:"landing_page_url"`
	Source     *struct {
		DisplayName string `json:"display_name"`
	} `json:"source"`
}

const maxAbstractWords = 100_000

// candidate converts w. ok is false when w carries no usable identifier.
func (w *work) candidate() (c domain.PaperCandidate, ok bool) {
	doi := firstNonEmpty(trimDOI(w.DOI), trimDOI(w.IDs.DOI))
	id := domain.GenerateCanonicalID(domain.PaperIdentifiers{
		DOI:        doi,
		PubMedID:   trimPMID(w.IDs.PMID),
		OpenAlexID: firstNonEmpty(trimPrefixed(w.ID, "https://openalex.org/"), trimPrefixed(w.IDs.OpenAlex, "https://openalex.org/")),
	})
	if id == "" {
		return c, false
	}

	c = domain.PaperCandidate{
		ExternalID: id,
		Title:      firstNonEmpty(strings.TrimSpace(w.DisplayName), strings.TrimSpace(w.Title)),
		Year:       w.Year,
		DOI:        doi,
		Abstract:   w.abstract(),
		SourceURL:  w.fullTextURL(),
	}
	if w.Primary != nil && w.Primary.Source != nil {
		c.Venue = w.Primary.Source.DisplayName
	}
	for _, a := range w.Authorships {
		author := domain.Author{
			Name:  a.Author.DisplayName,
			ORCID: trimPrefixed(a.Author.ORCID, "https://orcid.org/"),
		}
		if len(a.Institutions) > 0 {
			author.Affiliation = a.Institutions[0].DisplayName
		}
		c.Authors = append(c.Authors, author)
	}
	return c, true
}

// fullTextURL prefers the best OA PDF, then the OA landing URL, then the
// primary PDF.
func (w *work) fullTextURL() string {
	switch {
	case w.BestOA != nil && w.BestOA.PDFURL != "":
		return w.BestOA.PDFURL
	case w.OpenAccess != nil && w.OpenAccess.OAURL != "":
		return w.OpenAccess.OAURL
	case w.Primary != nil && w.Primary.PDFURL != "":
		return w.Primary.PDFURL
	}
	return ""
}

// abstract rebuilds the text from the inverted index. Oversized indexes yield "".
func (w *work) abstract() string {
	n := 0
	for _, pos := range w.InvertedAbstract {
		n += len(pos)
	}
	if n == 0 || n > maxAbstractWords {
		return ""
	}

	type token struct {
		at   int
		word string
	}
	tokens := make([]token, 0, n)
	for word, positions := range w.InvertedAbstract {
		for _, at := range positions {
			tokens = append(tokens, token{at, word})
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].at == tokens[j].at {
			return tokens[i].word < tokens[j].word
		}
		return tokens[i].at < tokens[j].at
	})

	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.word
	}
	return strings.Join(words, " ")
}

func trimDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, p := range []string{"https://doi.org/", "http://doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, p)
	}
	return strings.ToLower(strings.TrimSpace(doi))
}

func trimPMID(pmid string) string {
	return strings.Trim(trimPrefixed(pmid, "https://pubmed.ncbi.nlm.nih.gov/"), "/")
}

func trimPrefixed(s, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), prefix))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
