// Package shelf lists books from a working collection with sorting,
// filtering and paging.
package shelf

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"readinghabits/internal/models"
)

// Sort keys
const (
	SortDateRead = "dateRead"
	SortTitle    = "title"
	SortAuthor   = "author"
	SortRating   = "rating"
	SortPages    = "pages"
)

// Sort orders
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

// Query selects and orders books
type Query struct {
	SortBy    string
	Order     string
	MinRating int
	// Search is matched fuzzily against title and author
	Search string
	// Author is matched case-insensitively and exactly
	Author  string
	Page    int
	PerPage int
}

// Page is one page of query results
type Page struct {
	Books   []models.ReadBook `json:"books"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"perPage"`
}

// Normalize fills defaults and validates q
func (q Query) Normalize() (Query, error) {
	switch q.SortBy {
	case "":
		q.SortBy = SortDateRead
	case SortDateRead, SortTitle, SortAuthor, SortRating, SortPages:
	default:
		return q, fmt.Errorf("unknown sort key %q", q.SortBy)
	}

	switch q.Order {
	case "":
		q.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return q, fmt.Errorf("unknown sort order %q", q.Order)
	}

	if q.MinRating < 0 || q.MinRating > 5 {
		return q, fmt.Errorf("minimum rating must be between 0 and 5, got %d", q.MinRating)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Author = strings.TrimSpace(q.Author)
	return q, nil
}

// Apply filters, sorts and pages books. The input slice is not modified.
func Apply(books []models.ReadBook, q Query) (Page, error) {
	q, err := q.Normalize()
	if err != nil {
		return Page{}, err
	}

	matched := make([]models.ReadBook, 0, len(books))
	for _, b := range books {
		if b.MyRating < q.MinRating {
			continue
		}
		if q.Author != "" && !strings.EqualFold(b.Author, q.Author) {
			continue
		}
		if q.Search != "" && !fuzzy.MatchFold(q.Search, b.Title) && !fuzzy.MatchFold(q.Search, b.Author) {
			continue
		}
		matched = append(matched, b)
	}

	less := lessFunc(q.SortBy)
	sort.SliceStable(matched, func(i, j int) bool {
		if q.Order == OrderDesc {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	page := Page{Books: []models.ReadBook{}, Total: len(matched), Page: q.Page, PerPage: q.PerPage}
	pages := (len(matched) + q.PerPage - 1) / q.PerPage
	if q.Page > pages {
		return page, nil
	}
	start := (q.Page - 1) * q.PerPage
	end := start + q.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	page.Books = append(page.Books, matched[start:end]...)
	return page, nil
}

func lessFunc(key string) func(a, b models.ReadBook) bool {
	switch key {
	case SortTitle:
		return func(a, b models.ReadBook) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case SortAuthor:
		return func(a, b models.ReadBook) bool { return strings.ToLower(a.Author) < strings.ToLower(b.Author) }
	case SortRating:
		return func(a, b models.ReadBook) bool { return a.MyRating < b.MyRating }
	case SortPages:
		return func(a, b models.ReadBook) bool { return a.Pages < b.Pages }
	default:
		// undated books sort as the oldest
		return func(a, b models.ReadBook) bool {
			if !a.IsDated() {
				return b.IsDated()
			}
			if !b.IsDated() {
				return false
			}
			return a.DateRead.Before(*b.DateRead)
		}
	}
}

// Authors returns every author with the number of books, most read first
func Authors(books []models.ReadBook) []models.AuthorCount {
	index := make(map[string]int)
	var out []models.AuthorCount
	for _, b := range books {
		i, ok := index[b.Author]
		if !ok {
			i = len(out)
			index[b.Author] = i
			out = append(out, models.AuthorCount{Author: b.Author})
		}
		out[i].Count++
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
