// Package stats derives reading statistics from a working collection.
//
// Compute is a pure function of the collection and the supplied clock value.
// Everything except TotalBooks is computed over dated books only.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"readinghabits/internal/models"
)

const (
	// PaceWindowDays is both the trailing window and the divisor for pages per day
	PaceWindowDays = 30
	// MaxGenres caps the number of shelves reported in ReadingByGenre
	MaxGenres = 20
)

// Empty returns zeroed statistics for a collection of total books
func Empty(total int) models.ReadingStats {
	return models.ReadingStats{
		TotalBooks:         total,
		ReadingByYear:      map[string]int{},
		ReadingByMonth:     map[string][12]int{},
		RatingDistribution: emptyDistribution(),
		TopAuthors:         []models.AuthorCount{},
		ReadingByGenre:     map[string]int{},
	}
}

func emptyDistribution() map[string]int {
	dist := make(map[string]int, 5)
	for r := 1; r <= 5; r++ {
		dist[strconv.Itoa(r)] = 0
	}
	return dist
}

// Dated returns the books that carry a read date, in input order
func Dated(books []models.ReadBook) []models.ReadBook {
	dated := make([]models.ReadBook, 0, len(books))
	for _, b := range books {
		if b.IsDated() {
			dated = append(dated, b)
		}
	}
	return dated
}

// Compute builds ReadingStats for books as of now. Calendar buckets use the
// location of now.
func Compute(books []models.ReadBook, now time.Time) models.ReadingStats {
	st := Empty(len(books))

	dated := Dated(books)
	if len(dated) == 0 {
		return st
	}

	loc := now.Location()
	windowStart := now.AddDate(0, 0, -PaceWindowDays)

	var (
		ratingSum     int
		totalPages    int
		windowPages   int
		booksThisYear int
		longest       models.BookRef
	)
	authors := newCounter()
	genres := newCounter()

	for _, b := range dated {
		read := b.DateRead.In(loc)
		year := strconv.Itoa(read.Year())

		st.ReadingByYear[year]++
		months := st.ReadingByMonth[year]
		months[read.Month()-1]++
		st.ReadingByMonth[year] = months

		ratingSum += b.MyRating
		if b.MyRating >= 1 && b.MyRating <= 5 {
			st.RatingDistribution[strconv.Itoa(b.MyRating)]++
		}

		totalPages += b.Pages
		if b.Pages > longest.Pages {
			longest = models.BookRef{Title: b.Title, Pages: b.Pages}
		}

		if read.Year() == now.Year() {
			booksThisYear++
		}
		if !b.DateRead.Before(windowStart) && !b.DateRead.After(now) {
			windowPages += b.Pages
		}

		authors.add(b.Author)
		for _, shelf := range SplitShelves(b.Bookshelves) {
			genres.add(shelf)
		}
	}

	n := len(dated)
	st.AverageRating = float64(ratingSum) / float64(n)

	monthsElapsed := int(now.Month())
	if monthsElapsed > 0 {
		st.ReadingPace.BooksPerMonth = float64(booksThisYear) / float64(monthsElapsed)
	}
	st.ReadingPace.BooksPerYear = n
	st.ReadingPace.PagesPerDay = float64(windowPages) / PaceWindowDays

	st.PageStats = models.PageStats{
		TotalPages:    totalPages,
		AverageLength: float64(totalPages) / float64(n),
		LongestBook:   longest,
	}

	for _, e := range authors.ranked() {
		st.TopAuthors = append(st.TopAuthors, models.AuthorCount{Author: e.Name, Count: e.Count})
	}
	for i, e := range genres.ranked() {
		if i == MaxGenres {
			break
		}
		st.ReadingByGenre[e.Name] = e.Count
	}

	return st
}

// SplitShelves splits a comma separated bookshelves value into trimmed names
func SplitShelves(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var shelves []string
	for _, part := range strings.Split(value, ",") {
		if name := strings.TrimSpace(part); name != "" {
			shelves = append(shelves, name)
		}
	}
	return shelves
}

// ErrInconsistent is wrapped by Consistent when stats do not match their books
var ErrInconsistent = errors.New("stats do not match reading data")

// Consistent checks that st could have been computed from books
func Consistent(books []models.ReadBook, st models.ReadingStats) error {
	if st.TotalBooks != len(books) {
		return fmt.Errorf("%w: total books %d, collection has %d", ErrInconsistent, st.TotalBooks, len(books))
	}

	dated := len(Dated(books))
	byYear := 0
	for _, c := range st.ReadingByYear {
		byYear += c
	}
	if byYear != dated {
		return fmt.Errorf("%w: yearly counts sum to %d, %d dated books", ErrInconsistent, byYear, dated)
	}

	byMonth := 0
	for _, months := range st.ReadingByMonth {
		for _, c := range months {
			byMonth += c
		}
	}
	if byMonth != dated {
		return fmt.Errorf("%w: monthly counts sum to %d, %d dated books", ErrInconsistent, byMonth, dated)
	}

	if st.ReadingPace.BooksPerYear != dated {
		return fmt.Errorf("%w: books per year %d, %d dated books", ErrInconsistent, st.ReadingPace.BooksPerYear, dated)
	}

	for name, v := range map[string]float64{
		"averageRating": st.AverageRating,
		"booksPerMonth": st.ReadingPace.BooksPerMonth,
		"pagesPerDay":   st.ReadingPace.PagesPerDay,
		"averageLength": st.PageStats.AverageLength,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInconsistent, name)
		}
	}
	return nil
}

// counter counts names and ranks them by count, keeping first-seen order on ties
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(name string) {
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name]++
}

func (c *counter) ranked() []models.NameCount {
	out := make([]models.NameCount, len(c.order))
	for i, name := range c.order {
		out[i] = models.NameCount{Name: name, Count: c.counts[name]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}
