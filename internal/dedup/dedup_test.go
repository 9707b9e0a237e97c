package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

func authors(names ...string) []domain.Author {
	out := make([]domain.Author, len(names))
	for i, n := range names {
		out[i] = domain.Author{Name: n}
	}
	return out
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"":                   "",
		"Jane Smith":         "jane smith",
		"Smith, Jane":        "jane smith",
		"Smith,":             "smith",
		"J. R. R. Tolkien":   "j r r tolkien",
		"O'Brien, Conan":     "conan obrien",
		"  Marie   Curie  ":  "marie curie",
		"Jean-Paul Sartre":   "jeanpaul sartre",
		"Zoë Müller":         "zoë müller",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeName(in), "input %q", in)
	}
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"jane smith", "jane smith", 1},
		{"j smith", "jane smith", 0.9},
		{"jane smith", "j smith", 0.9},
		{"smith", "jane smith", 0.7},
		{"john smith", "jane smith", 0.3},
		{"jane smith", "jane doe", 0},
		{"", "jane smith", 0},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, nameSimilarity(tc.a, tc.b), 1e-9, "%q vs %q", tc.a, tc.b)
	}
}

func TestAuthorOverlap(t *testing.T) {
	a := authors("Jane Smith", "Wei Zhang", "Ana Lopez")

	assert.InDelta(t, 1.0, AuthorOverlap(a, a), 1e-9)
	assert.Zero(t, AuthorOverlap(a, nil))
	assert.Zero(t, AuthorOverlap(a, authors("Tom Hardy")))

	// One of three matches: 1 / (3 + 1 - 1).
	assert.InDelta(t, 1.0/3.0, AuthorOverlap(a, authors("Smith, Jane")), 1e-9)

	b := authors("J. Smith", "Zhang, Wei")
	assert.InDelta(t, AuthorOverlap(a, b), AuthorOverlap(b, a), 1e-9)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "attention is all you need", NormalizeTitle("Attention Is All You Need."))
	assert.Equal(t, "covid 19 and the lung", NormalizeTitle("COVID-19 and the lung"))
	assert.Equal(t, "", NormalizeTitle(" -- "))
}

func TestSameWork(t *testing.T) {
	published := domain.PaperCandidate{
		ExternalID: "doi:10.1/abc",
		Title:      "Graph Neural Networks: A Review",
		Authors:    authors("Jane Smith", "Wei Zhang"),
	}

	tests := []struct {
		name  string
		other domain.PaperCandidate
		want  bool
	}{
		{"same id", domain.PaperCandidate{ExternalID: "doi:10.1/abc", Title: "Other"}, true},
		{
			"preprint with same authors",
			domain.PaperCandidate{ExternalID: "arxiv:2101.1", Title: "Graph neural networks - a review", Authors: authors("J. Smith", "Zhang, Wei")},
			true,
		},
		{
			"same title different authors",
			domain.PaperCandidate{ExternalID: "openalex:W2", Title: "Graph Neural Networks: A Review", Authors: authors("Tom Hardy")},
			false,
		},
		{
			"same title without authors",
			domain.PaperCandidate{ExternalID: "openalex:W3", Title: "Graph Neural Networks: a review"},
			true,
		},
		{"different title", domain.PaperCandidate{ExternalID: "openalex:W4", Title: "Graph Neural Networks"}, false},
		{"empty titles", domain.PaperCandidate{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SameWork(published, tc.other))
			assert.Equal(t, tc.want, SameWork(tc.other, published))
		})
	}
}
