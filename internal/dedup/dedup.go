// Package dedup detects discovery results that describe the same work under
// different identifiers, such as a preprint and its published version.
package dedup

import (
	"strings"
	"unicode"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// MinAuthorOverlap is the author overlap above which two candidates with the
// same normalized title are the same work.
const MinAuthorOverlap = 0.5

// SameWork reports whether a and b are the same paper. Titles must match after
// normalization. When both carry authors, their overlap must reach
// MinAuthorOverlap; a candidate without authors matches on title alone.
func SameWork(a, b domain.PaperCandidate) bool {
	if a.ExternalID != "" && a.ExternalID == b.ExternalID {
		return true
	}
	ta, tb := NormalizeTitle(a.Title), NormalizeTitle(b.Title)
	if ta == "" || ta != tb {
		return false
	}
	if len(a.Authors) == 0 || len(b.Authors) == 0 {
		return true
	}
	return AuthorOverlap(a.Authors, b.Authors) >= MinAuthorOverlap
}

// NormalizeTitle lowercases a title and keeps only letters and digits,
// separated by single spaces.
func NormalizeTitle(title string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// AuthorOverlap scores two author lists between 0 and 1. Each author of the
// shorter list is paired greedily with its most similar unpaired author of the
// longer list; the summed similarity is divided by the size of the union.
// The score is symmetric and 0 when either list is empty.
func AuthorOverlap(a, b []domain.Author) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	short, long := names(a), names(b)
	if len(short) > len(long) {
		short, long = long, short
	}

	paired := make([]bool, len(long))
	var total float64
	pairs := 0
	for _, n := range short {
		best, bestIdx := 0.0, -1
		for j, m := range long {
			if paired[j] {
				continue
			}
			if s := nameSimilarity(n, m); s > best {
				best, bestIdx = s, j
			}
		}
		if bestIdx >= 0 {
			paired[bestIdx] = true
			total += best
			pairs++
		}
	}
	return total / float64(len(short)+len(long)-pairs)
}

// NormalizeName lowercases a name, turns "Last, First" into "First Last" and
// drops everything except letters and single spaces.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if last, first, ok := strings.Cut(name, ","); ok {
		name = last
		if first = strings.TrimSpace(first); first != "" {
			name = first + " " + last
		}
	}
	letters := strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsSpace(r)
	}), "")
	return strings.Join(strings.Fields(letters), " ")
}

// nameSimilarity compares two normalized names.
//
//	same given names       1.0
//	matching initial       0.9
//	a surname-only name    0.7
//	different given names  0.3
//	different surnames     0.0
func nameSimilarity(a, b string) float64 {
	pa, pb := strings.Fields(a), strings.Fields(b)
	if len(pa) == 0 || len(pb) == 0 || pa[len(pa)-1] != pb[len(pb)-1] {
		return 0
	}
	ga, gb := pa[:len(pa)-1], pb[:len(pb)-1]
	switch {
	case len(ga) == 0 || len(gb) == 0:
		return 0.7
	case strings.Join(ga, " ") == strings.Join(gb, " "):
		return 1
	case isInitialOf(ga[0], gb[0]) || isInitialOf(gb[0], ga[0]):
		return 0.9
	default:
		return 0.3
	}
}

func isInitialOf(initial, given string) bool {
	r := []rune(initial)
	g := []rune(given)
	return len(r) == 1 && len(g) > 1 && r[0] == g[0]
}

func names(authors []domain.Author) []string {
	out := make([]string, len(authors))
	for i, a := range authors {
		out[i] = NormalizeName(a.Name)
	}
	return out
}
