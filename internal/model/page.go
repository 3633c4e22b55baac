package model

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// PageParams selects one page of a list.
type PageParams struct {
	Page    int
	PerPage int
}

// NewPageParams clamps page and perPage to valid values.
func NewPageParams(page, perPage int) PageParams {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return PageParams{Page: page, PerPage: perPage}
}

// Offset is the number of rows skipped before this page.
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Page is one page of results plus the total row count.
type Page[T any] struct {
	Items      []T
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPage builds a Page from the items of one page and the total count.
func NewPage[T any](items []T, params PageParams, total int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := total / params.PerPage
	if total%params.PerPage != 0 {
		totalPages++
	}
	return &Page[T]{
		Items:      items,
		Page:       params.Page,
		PerPage:    params.PerPage,
		Total:      total,
		TotalPages: totalPages,
	}
}
