package models

import "time"

// Placeholders used when a record has no usable title or author
const (
	UntitledBook  = "Untitled"
	UnknownAuthor = "Unknown Author"
)

// ReadBook represents one finished book from the reader's library
type ReadBook struct {
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	MyRating      int        `json:"myRating"`
	Pages         int        `json:"pages"`
	DateRead      *time.Time `json:"dateRead"`
	Publisher     string     `json:"publisher,omitempty"`
	Binding       string     `json:"binding,omitempty"`
	Bookshelves   string     `json:"bookshelves,omitempty"`
	ISBN          string     `json:"isbn,omitempty"`
	YearPublished *int       `json:"yearPublished"`
}

// IsDated reports whether the book has a parsed read date
func (b ReadBook) IsDated() bool {
	return b.DateRead != nil && !b.DateRead.IsZero()
}

// ReadingPace holds the pace metrics of a collection
type ReadingPace struct {
	BooksPerMonth float64 `json:"booksPerMonth"`
	BooksPerYear  int     `json:"booksPerYear"`
	PagesPerDay   float64 `json:"pagesPerDay"`
}

// BookRef identifies a single book by title and page count
type BookRef struct {
	Title string `json:"title"`
	Pages int    `json:"pages"`
}

// PageStats holds page totals and extremes
type PageStats struct {
	TotalPages    int     `json:"totalPages"`
	AverageLength float64 `json:"averageLength"`
	LongestBook   BookRef `json:"longestBook"`
}

// AuthorCount is one entry of the top authors ranking
type AuthorCount struct {
	Author string `json:"author"`
	Count  int    `json:"count"`
}

// ReadingStats is the aggregate derived from a working collection
type ReadingStats struct {
	TotalBooks         int                `json:"totalBooks"`
	AverageRating      float64            `json:"averageRating"`
	ReadingByYear      map[string]int     `json:"readingByYear"`
	ReadingByMonth     map[string][12]int `json:"readingByMonth"`
	RatingDistribution map[string]int     `json:"ratingDistribution"`
	ReadingPace        ReadingPace        `json:"readingPace"`
	PageStats          PageStats          `json:"pageStats"`
	TopAuthors         []AuthorCount      `json:"topAuthors"`
	ReadingByGenre     map[string]int     `json:"readingByGenre"`
}

// Goal is the progress towards one target
type Goal struct {
	Current    int `json:"current"`
	Target     int `json:"target"`
	Percentage int `json:"percentage"`
}

// GoalProgress holds the yearly and monthly goal progress
type GoalProgress struct {
	Yearly  Goal `json:"yearly"`
	Monthly Goal `json:"monthly"`
}

// Targets are the user-configured reading goals
type Targets struct {
	Yearly  int `json:"yearly"`
	Monthly int `json:"monthly"`
}

// Targets returns the targets carried by the progress value
func (g GoalProgress) Targets() Targets {
	return Targets{Yearly: g.Yearly.Target, Monthly: g.Monthly.Target}
}

// Envelope is the unit persisted locally and remotely
type Envelope struct {
	ReadingData  []ReadBook   `json:"readingData"`
	Stats        ReadingStats `json:"stats"`
	GoalProgress GoalProgress `json:"goalProgress"`
}

// Projection estimates the year's outcome and suggests goals
type Projection struct {
	BooksThisYear    int            `json:"booksThisYear"`
	YearlyProjection int            `json:"yearlyProjection"`
	Suggested        SuggestedGoals `json:"suggested"`
}

// SuggestedGoals are yearly targets derived from past performance
type SuggestedGoals struct {
	Easy        int `json:"easy"`
	Moderate    int `json:"moderate"`
	Challenging int `json:"challenging"`
	Monthly     int `json:"monthly"`
}

// NameCount is a labelled count used by breakdown charts
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DatedBook identifies a book together with the date it was finished
type DatedBook struct {
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	DateRead time.Time `json:"dateRead"`
}

// Breakdown holds secondary distributions over the whole collection
type Breakdown struct {
	Publishers       []NameCount `json:"publishers"`
	Bindings         []NameCount `json:"bindings"`
	PageDistribution []NameCount `json:"pageDistribution"`
	Decades          []NameCount `json:"decades"`
	ShortestBook     *BookRef    `json:"shortestBook"`
	OverFiveHundred  int         `json:"overFiveHundred"`
	FirstBook        *DatedBook  `json:"firstBook"`
	LastBook         *DatedBook  `json:"lastBook"`
	TotalPages       int         `json:"totalPages"`
	RatedBooks       int         `json:"ratedBooks"`
}
