package search

import (
	"fmt"
	"strconv"
	"strings"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultBookshelf ResultType = "bookshelf"
	ResultBook      ResultType = "book"
	ResultChapter   ResultType = "chapter"
	ResultPage      ResultType = "page"
)

func ParseResultType(raw string) (ResultType, error) {
	switch t := ResultType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "", ResultBookshelf, ResultBook, ResultChapter, ResultPage:
		return t, nil
	default:
		return "", fmt.Errorf("unknown result type %q", raw)
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Snippet  string     `json:"snippet"`
	Slug     string     `json:"slug"`
	BookID   int64      `json:"bookId,omitempty"`
	BookSlug string     `json:"bookSlug,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	// FilterBookID limits results to one book and what it contains.
	FilterBookID int64
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Record is the data we index for any entity. All entity types share one
// index keyed by Key.
type Record struct {
	Key      string     `json:"key"`
	Type     ResultType `json:"type"`
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Body     string     `json:"body"`
	Slug     string     `json:"slug"`
	BookID   int64      `json:"bookId"`
	BookSlug string     `json:"bookSlug"`
}

// Ref points at one indexed entity.
type Ref struct {
	Type ResultType
	ID   int64
}

func RecordKey(t ResultType, id int64) string {
	return string(t) + "-" + strconv.FormatInt(id, 10)
}
