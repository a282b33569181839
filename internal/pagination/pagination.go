// Package pagination holds the page/page_size contract used by every list
// operation.
package pagination

import (
	"net/url"
	"strconv"
)

const (
	DefaultPage        = 1
	DefaultPageSize    = 10
	DefaultMaxPageSize = 100
)

type Request struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Normalize applies defaults and caps PageSize at max (DefaultMaxPageSize
// when max <= 0).
func (r Request) Normalize(max int) Request {
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if r.Page < 1 {
		r.Page = DefaultPage
	}
	if r.PageSize < 1 {
		r.PageSize = DefaultPageSize
	}
	if r.PageSize > max {
		r.PageSize = max
	}
	return r
}

func (r Request) Offset() int {
	if r.Page < 1 {
		return 0
	}
	return (r.Page - 1) * r.Limit()
}

func (r Request) Limit() int {
	if r.PageSize < 1 {
		return DefaultPageSize
	}
	return r.PageSize
}

type Result[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
}

// Window cuts the page described by req out of the full matching set.
// Total is always len(items).
func Window[T any](items []T, req Request) Result[T] {
	res := Result[T]{Items: []T{}, Total: int64(len(items)), Page: req.Page}
	start := req.Offset()
	if start >= len(items) {
		return res
	}
	end := start + req.Limit()
	if end > len(items) {
		end = len(items)
	}
	res.Items = append(res.Items, items[start:end]...)
	return res
}

// FromQuery reads page and page_size from query parameters and normalizes
// them. Unparseable values fall back to the defaults.
func FromQuery(q url.Values, max int) Request {
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return Request{Page: page, PageSize: size}.Normalize(max)
}
