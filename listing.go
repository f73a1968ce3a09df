package compliance

import (
	"net/url"
	"strings"
)

// Filter narrows a supplier list. Empty fields match everything.
type Filter struct {
	Search           string // substring of name, contact, email or phone
	Category         string
	ComplianceStatus string
}

// Query renders the filter as list endpoint query parameters
func (f Filter) Query() url.Values {
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.ComplianceStatus != "" {
		q.Set("compliance_status", f.ComplianceStatus)
	}
	return q
}

// Match reports whether s passes the filter
func (f Filter) Match(s Supplier) bool {
	if f.Category != "" && !strings.EqualFold(s.Category, f.Category) {
		return false
	}
	if f.ComplianceStatus != "" && !strings.EqualFold(s.ComplianceStatus, f.ComplianceStatus) {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(strings.TrimSpace(f.Search))
	for _, hay := range []string{s.Name, s.ContactPerson, s.Email, s.Phone, s.ID.String()} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// Apply returns the suppliers that pass the filter, in order
func (f Filter) Apply(suppliers []Supplier) []Supplier {
	out := make([]Supplier, 0, len(suppliers))
	for _, s := range suppliers {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	return out
}

// Page is one slice of a paginated list
type Page[T any] struct {
	Items      []T
	Number     int // 1-based
	PerPage    int
	Total      int
	TotalPages int
}

// HasNext reports whether a later page exists
func (p Page[T]) HasNext() bool { return p.Number < p.TotalPages }

// HasPrev reports whether an earlier page exists
func (p Page[T]) HasPrev() bool { return p.Number > 1 }

// Paginate returns page number (1-based) of items. Out-of-range pages are
// clamped to the nearest valid page; perPage below 1 defaults to 10.
func Paginate[T any](items []T, number, perPage int) Page[T] {
	if perPage < 1 {
		perPage = 10
	}
	total := len(items)
	pages := (total + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	number = min(max(number, 1), pages)

	start := min((number-1)*perPage, total)
	end := min(start+perPage, total)
	return Page[T]{
		Items:      items[start:end],
		Number:     number,
		PerPage:    perPage,
		Total:      total,
		TotalPages: pages,
	}
}
