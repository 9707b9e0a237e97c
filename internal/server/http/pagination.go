package httpserver

import (
	"encoding/base64"
	"net/url"
	"strconv"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// page is one window of the review list. Page tokens carry the offset of
// the next window, base64url encoded; a token that does not decode starts
// from the beginning.
type page struct {
	size   int
	offset int
}

func pageFromQuery(q url.Values) page {
	p := page{size: defaultPageSize}
	if n, err := strconv.Atoi(q.Get("page_size")); err == nil && n > 0 {
		p.size = min(n, maxPageSize)
	}
	if raw, err := base64.RawURLEncoding.DecodeString(q.Get("page_token")); err == nil {
		if n, err := strconv.Atoi(string(raw)); err == nil && n > 0 {
			p.offset = n
		}
	}
	return p
}

// nextToken is empty once the window reaches total.
func (p page) nextToken(total int) string {
	next := p.offset + p.size
	if next >= total {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(next)))
}
