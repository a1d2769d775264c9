package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params holds pagination parameters for one page of a list.
type Params struct {
	Limit  int
	Offset int
}

// Normalize clamps limit into [1, MaxLimit] (0 selects DefaultLimit) and
// offset to be non-negative.
func Normalize(limit, offset int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// FromContext extracts pagination parameters from the echo context. ok is
// false when the request carries neither limit nor offset, meaning the
// caller wants the whole list.
func FromContext(c echo.Context) (p Params, ok bool) {
	rawLimit, rawOffset := c.QueryParam("limit"), c.QueryParam("offset")
	if rawLimit == "" && rawOffset == "" {
		return Params{}, false
	}
	limit, _ := strconv.Atoi(rawLimit)
	offset, _ := strconv.Atoi(rawOffset)
	return Normalize(limit, offset), true
}

// Page is one window over a list held in memory.
type Page[T any] struct {
	Items   []T
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// Slice cuts the page described by p out of items.
func Slice[T any](items []T, p Params) Page[T] {
	p = Normalize(p.Limit, p.Offset)
	total := len(items)
	start := min(p.Offset, total)
	end := min(start+p.Limit, total)
	return Page[T]{
		Items:   items[start:end:end],
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}

// Params returns the parameters that produced the page.
func (pg Page[T]) Params() Params {
	return Params{Limit: pg.Limit, Offset: pg.Offset}
}

// Range describes the page for a status line, e.g. "11-20 of 57".
func (pg Page[T]) Range() string {
	if pg.Total == 0 || len(pg.Items) == 0 {
		return fmt.Sprintf("0 of %d", pg.Total)
	}
	return fmt.Sprintf("%d-%d of %d", pg.Offset+1, pg.Offset+len(pg.Items), pg.Total)
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Link is one entry of an RFC 8288 Link header.
type Link struct {
	Relation string
	URL      string
}

// Links generates self/next/previous links for a paged list at basePath.
func (p Params) Links(basePath string, total int) []Link {
	links := []Link{
		{Relation: "self", URL: fmt.Sprintf("%s?offset=%d&limit=%d", basePath, p.Offset, p.Limit)},
	}
	if p.HasNext(total) {
		links = append(links, Link{
			Relation: "next",
			URL:      fmt.Sprintf("%s?offset=%d&limit=%d", basePath, p.NextOffset(), p.Limit),
		})
	}
	if p.HasPrevious() {
		links = append(links, Link{
			Relation: "prev",
			URL:      fmt.Sprintf("%s?offset=%d&limit=%d", basePath, p.PreviousOffset(), p.Limit),
		})
	}
	return links
}

// LinkHeader renders links as a Link header value.
func LinkHeader(links []Link) string {
	parts := make([]string, 0, len(links))
	for _, l := range links {
		parts = append(parts, fmt.Sprintf(`<%s>; rel="%s"`, l.URL, l.Relation))
	}
	return strings.Join(parts, ", ")
}
