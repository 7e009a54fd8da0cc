package domain

import "strings"

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ConversationFilter selects conversations for the admin listing.
type ConversationFilter struct {
	Status *ConversationStatus
	// Search is matched case-insensitively as a substring of the visitor email.
	Search string
	Page   int
	Limit  int
}

// Normalize clamps paging values into their allowed ranges.
func (f ConversationFilter) Normalize() ConversationFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// Offset returns the number of rows to skip for the filter's page.
func (f ConversationFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Pagination is returned alongside a page of results.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// NewPagination computes page metadata for total matching rows.
func NewPagination(page, limit int, total int64) Pagination {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}
