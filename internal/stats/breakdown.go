package stats

import (
	"sort"
	"strconv"
	"strings"

	"readinghabits/internal/models"
)

// MaxPublishers caps the publisher ranking
const MaxPublishers = 15

type pageBucket struct {
	label string
	max   int // inclusive upper bound; 0 means unbounded
}

var pageBuckets = []pageBucket{
	{"Under 100", 99},
	{"100-200", 200},
	{"201-300", 300},
	{"301-400", 400},
	{"401-500", 500},
	{"501-750", 750},
	{"751-1000", 1000},
	{"Over 1000", 0},
}

// Breakdown computes secondary distributions over every book in the
// collection, dated or not. Books with unknown page counts are left out of
// page figures.
func Breakdown(books []models.ReadBook) models.Breakdown {
	bd := models.Breakdown{
		Publishers:       []models.NameCount{},
		Bindings:         []models.NameCount{},
		PageDistribution: make([]models.NameCount, len(pageBuckets)),
		Decades:          []models.NameCount{},
	}
	for i, bucket := range pageBuckets {
		bd.PageDistribution[i].Name = bucket.label
	}

	publishers := newCounter()
	bindings := newCounter()
	decades := make(map[int]int)

	for _, b := range books {
		if p := strings.TrimSpace(b.Publisher); p != "" {
			publishers.add(p)
		}
		if v := strings.TrimSpace(b.Binding); v != "" {
			bindings.add(v)
		}
		if b.MyRating > 0 {
			bd.RatedBooks++
		}

		if b.Pages > 0 {
			bd.TotalPages += b.Pages
			bd.PageDistribution[bucketIndex(b.Pages)].Count++
			if b.Pages > 500 {
				bd.OverFiveHundred++
			}
			if bd.ShortestBook == nil || b.Pages < bd.ShortestBook.Pages {
				bd.ShortestBook = &models.BookRef{Title: b.Title, Pages: b.Pages}
			}
		}

		if b.YearPublished != nil && *b.YearPublished > 0 {
			decades[*b.YearPublished/10*10]++
		}

		if b.IsDated() {
			if bd.FirstBook == nil || b.DateRead.Before(bd.FirstBook.DateRead) {
				bd.FirstBook = datedBook(b)
			}
			if bd.LastBook == nil || b.DateRead.After(bd.LastBook.DateRead) {
				bd.LastBook = datedBook(b)
			}
		}
	}

	ranked := publishers.ranked()
	if len(ranked) > MaxPublishers {
		ranked = ranked[:MaxPublishers]
	}
	bd.Publishers = append(bd.Publishers, ranked...)
	bd.Bindings = append(bd.Bindings, bindings.ranked()...)

	keys := make([]int, 0, len(decades))
	for d := range decades {
		keys = append(keys, d)
	}
	sort.Ints(keys)
	for _, d := range keys {
		bd.Decades = append(bd.Decades, models.NameCount{Name: strconv.Itoa(d) + "s", Count: decades[d]})
	}

	return bd
}

func bucketIndex(pages int) int {
	for i, bucket := range pageBuckets {
		if bucket.max == 0 || pages <= bucket.max {
			return i
		}
	}
	return len(pageBuckets) - 1
}

func datedBook(b models.ReadBook) *models.DatedBook {
	return &models.DatedBook{Title: b.Title, Author: b.Author, DateRead: *b.DateRead}
}
