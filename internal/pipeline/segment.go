package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Segment splits text into at most maxSegments pieces of at most maxChars
// runes each. Cuts prefer paragraph breaks, then any whitespace, and fall back
// to a hard cut. The result depends only on the arguments.
func Segment(text string, maxChars, maxSegments int) []string {
	text = strings.TrimSpace(text)
	if text == "" || maxChars <= 0 {
		return nil
	}

	var segments []string
	for text != "" && (maxSegments <= 0 || len(segments) < maxSegments) {
		if utf8.RuneCountInString(text) <= maxChars {
			segments = append(segments, text)
			break
		}

		limit := byteOffset(text, maxChars)
		head := text[:limit]

		cut := strings.LastIndex(head, "\n\n")
		if cut <= 0 {
			cut = strings.LastIndexFunc(head, unicode.IsSpace)
		}
		if cut <= 0 {
			cut = limit
		}

		segments = append(segments, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	return segments
}

// byteOffset returns the byte index of the n-th rune of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
