package domain

import (
	"fmt"
	"math"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
	// MaxPage keeps (page-1)*limit within int for every accepted limit.
	MaxPage = math.MaxInt / MaxLimit
)

// Sortable columns accepted by MovieFilter.SortBy.
const (
	SortPopularity  = "popularity"
	SortReleaseDate = "releaseDate"
	SortTitle       = "title"
	SortRating      = "rating"
)

const (
	OrderAsc  = "ASC"
	OrderDesc = "DESC"
)

// MovieFilter is the filter/sort/pagination request for catalog listings.
//
// Field order is significant: cache keys are derived from the JSON encoding of
// this struct, so the declaration order is the canonical serialization order.
// Unset fields are omitted, which makes the empty filter encode as "{}".
type MovieFilter struct {
	Title         *string  `json:"title,omitempty"`
	MinPopularity *float64 `json:"minPopularity,omitempty"`
	MaxPopularity *float64 `json:"maxPopularity,omitempty"`
	Year          *int     `json:"year,omitempty"`
	Genre         *Genre   `json:"genre,omitempty"`
	SortBy        *string  `json:"sortBy,omitempty"`
	Order         *string  `json:"order,omitempty"`
	Page          *int     `json:"page,omitempty"`
	Limit         *int     `json:"limit,omitempty"`
}

// Validate rejects sort and pagination values the store cannot honour.
func (f MovieFilter) Validate() error {
	if f.SortBy != nil {
		switch *f.SortBy {
		case SortPopularity, SortReleaseDate, SortTitle, SortRating:
		default:
			return fmt.Errorf("invalid sortBy %q: %w", *f.SortBy, ErrInvalid)
		}
	}
	if f.Order != nil && *f.Order != OrderAsc && *f.Order != OrderDesc {
		return fmt.Errorf("invalid order %q: %w", *f.Order, ErrInvalid)
	}
	for _, p := range []*float64{f.MinPopularity, f.MaxPopularity} {
		if p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
			return fmt.Errorf("popularity bounds must be finite: %w", ErrInvalid)
		}
	}
	if f.Page != nil && (*f.Page < 0 || *f.Page > MaxPage) {
		return fmt.Errorf("page must be between 1 and %d: %w", MaxPage, ErrInvalid)
	}
	if f.Limit != nil && (*f.Limit < 0 || *f.Limit > MaxLimit) {
		return fmt.Errorf("limit must be between 1 and %d: %w", MaxLimit, ErrInvalid)
	}
	return nil
}

// PageOrDefault returns the requested page; zero or unset means page 1.
func (f MovieFilter) PageOrDefault() int {
	if f.Page == nil || *f.Page <= 0 {
		return DefaultPage
	}
	return *f.Page
}

// LimitOrDefault returns the requested page size; zero or unset means 10.
func (f MovieFilter) LimitOrDefault() int {
	if f.Limit == nil || *f.Limit <= 0 {
		return DefaultLimit
	}
	return *f.Limit
}

// Skip is the row offset of the requested page.
func (f MovieFilter) Skip() int {
	return (f.PageOrDefault() - 1) * f.LimitOrDefault()
}

// OrderOrDefault returns the sort direction, descending unless given.
func (f MovieFilter) OrderOrDefault() string {
	if f.Order == nil {
		return OrderDesc
	}
	return *f.Order
}
