// Package catalog implements the read side over the property collection:
// filtering, pagination, summaries and aggregate statistics.
package catalog

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Pagination defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter narrows the collection. Nil bounds are not applied.
type Filter struct {
	MinBedrooms  *int     `json:"bedrooms,omitempty"`
	MinBathrooms *float64 `json:"bathrooms,omitempty"`
	PriceMin     *int64   `json:"priceMin,omitempty"`
	PriceMax     *int64   `json:"priceMax,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
}

// Query is a parsed list request.
type Query struct {
	Filter   Filter
	Page     int
	PageSize int
}

// ParseQuery reads page, pageSize and filter parameters. Out-of-range paging
// values are clamped; malformed numbers are an error.
func ParseQuery(values url.Values) (Query, error) {
	q := Query{Page: 1, PageSize: DefaultPageSize}
	var err error
	if q.Page, err = intParam(values, "page", 1); err != nil {
		return Query{}, err
	}
	if q.PageSize, err = intParam(values, "pageSize", DefaultPageSize); err != nil {
		return Query{}, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	if v := strings.TrimSpace(values.Get("bedrooms")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Query{}, fmt.Errorf("bedrooms: %w", err)
		}
		q.Filter.MinBedrooms = &n
	}
	if v := strings.TrimSpace(values.Get("bathrooms")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) {
			return Query{}, fmt.Errorf("bathrooms: invalid number %q", v)
		}
		q.Filter.MinBathrooms = &f
	}
	if q.Filter.PriceMin, err = int64Param(values, "priceMin"); err != nil {
		return Query{}, err
	}
	if q.Filter.PriceMax, err = int64Param(values, "priceMax"); err != nil {
		return Query{}, err
	}
	q.Filter.City = strings.TrimSpace(values.Get("city"))
	q.Filter.State = strings.TrimSpace(values.Get("state"))
	return q, nil
}

func intParam(values url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(values.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func int64Param(values url.Values, key string) (*int64, error) {
	v := strings.TrimSpace(values.Get(key))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &n, nil
}

// Match reports whether p is active and passes every set bound. A property
// without a price never matches a price bound.
func (f Filter) Match(p crawler.Property) bool {
	if !p.IsActive {
		return false
	}
	if f.MinBedrooms != nil && p.Bedrooms < *f.MinBedrooms {
		return false
	}
	if f.MinBathrooms != nil && p.Bathrooms < *f.MinBathrooms {
		return false
	}
	if f.PriceMin != nil && (p.Price == nil || *p.Price < *f.PriceMin) {
		return false
	}
	if f.PriceMax != nil && (p.Price == nil || *p.Price > *f.PriceMax) {
		return false
	}
	if f.City != "" && !strings.Contains(strings.ToLower(p.City), strings.ToLower(f.City)) {
		return false
	}
	if f.State != "" && !strings.EqualFold(p.State, f.State) {
		return false
	}
	return true
}

// Apply returns the matching properties in collection order.
func (f Filter) Apply(props []crawler.Property) []crawler.Property {
	out := make([]crawler.Property, 0, len(props))
	for _, p := range props {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Pagination describes one page of a result set.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	TotalCount int  `json:"totalCount"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Paginate slices props to the requested 1-based page. Pages past the end
// are empty.
func Paginate(props []crawler.Property, page, pageSize int) ([]crawler.Property, Pagination) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	total := len(props)
	totalPages := (total + pageSize - 1) / pageSize
	info := Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
	if page-1 > (math.MaxInt-pageSize)/pageSize {
		return []crawler.Property{}, info
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []crawler.Property{}, info
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return props[start:end], info
}
