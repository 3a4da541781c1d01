// Package goodreads turns Goodreads library exports and JSON backups into
// normalized read books.
//
// Only records whose exclusive shelf is exactly "read" survive parsing.
// Rows that cannot be tokenized or extracted are skipped and counted; only a
// failure of the underlying reader aborts a parse.
package goodreads

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"readinghabits/internal/models"
)

// Goodreads export column names
const (
	ColumnShelf             = "Exclusive Shelf"
	ColumnTitle             = "Title"
	ColumnAuthor            = "Author"
	ColumnMyRating          = "My Rating"
	ColumnPages             = "Number of Pages"
	ColumnDateRead          = "Date Read"
	ColumnPublisher         = "Publisher"
	ColumnBinding           = "Binding"
	ColumnBookshelves       = "Bookshelves"
	ColumnISBN13            = "ISBN13"
	ColumnISBN              = "ISBN"
	ColumnYearPublished     = "Year Published"
	ColumnOriginalPublished = "Original Publication Year"
)

// ReadShelf is the only shelf value that admits a record
const ReadShelf = "read"

// Options configures a parse
type Options struct {
	// Location is used to interpret calendar dates. Defaults to time.Local.
	Location *time.Location
	Logger   *zap.Logger
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Result is the outcome of parsing a whole source
type Result struct {
	Books    []models.ReadBook
	Rows     int // data rows seen, header excluded
	Filtered int // rows dropped because the shelf is not "read"
	Skipped  int // malformed rows
}

// SourceReadError reports that the source itself could not be read
type SourceReadError struct {
	Source string
	Err    error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Source, e.Err)
}

func (e *SourceReadError) Unwrap() error {
	return e.Err
}

// ErrNoHeader is returned (wrapped in SourceReadError) for an empty source
var ErrNoHeader = errors.New("missing header row")

// ParseFile opens and parses a Goodreads CSV export from disk
func ParseFile(path string, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, &SourceReadError{Source: path, Err: err}
	}
	defer f.Close()

	return Parse(f, opts)
}

// Parse reads a Goodreads CSV export and returns the read books it contains
func Parse(r io.Reader, opts Options) (Result, error) {
	logger := opts.logger()
	loc := opts.location()

	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrNoHeader
		}
		return Result{}, &SourceReadError{Source: "csv export", Err: err}
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	var result Result
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Rows++
				result.Skipped++
				logger.Debug("Skipping malformed row",
					zap.Int("line", parseErr.Line),
					zap.Error(err),
				)
				continue
			}
			return Result{}, &SourceReadError{Source: "csv export", Err: err}
		}
		result.Rows++

		fields := make(map[string]string, len(columns))
		for i, value := range record {
			if i < len(columns) {
				fields[columns[i]] = value
			}
		}

		book, ok, err := extractRow(fields, loc)
		if err != nil {
			result.Skipped++
			logger.Debug("Skipping row that failed extraction",
				zap.Int("row", result.Rows),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			result.Filtered++
			continue
		}
		result.Books = append(result.Books, book)
	}

	logger.Debug("Parsed goodreads export",
		zap.Int("rows", result.Rows),
		zap.Int("books", len(result.Books)),
		zap.Int("filtered", result.Filtered),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// extractRow converts one field map, turning a panic into a row error
func extractRow(fields map[string]string, loc *time.Location) (book models.ReadBook, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("row extraction panicked: %v", r)
		}
	}()

	book, ok = BookFromRow(fields, loc)
	return book, ok, nil
}

// BookFromRow maps one CSV row to a ReadBook. ok is false when the row is not
// on the read shelf.
func BookFromRow(fields map[string]string, loc *time.Location) (models.ReadBook, bool) {
	if strings.TrimSpace(fields[ColumnShelf]) != ReadShelf {
		return models.ReadBook{}, false
	}

	book := models.ReadBook{
		Title:       orDefault(cleanString(fields[ColumnTitle]), models.UntitledBook),
		Author:      orDefault(cleanString(fields[ColumnAuthor]), models.UnknownAuthor),
		MyRating:    coerceRating(fields[ColumnMyRating]),
		Pages:       coercePages(fields[ColumnPages]),
		DateRead:    ParseDate(fields[ColumnDateRead], loc),
		Publisher:   cleanString(fields[ColumnPublisher]),
		Binding:     cleanString(fields[ColumnBinding]),
		Bookshelves: cleanString(fields[ColumnBookshelves]),
		ISBN:        firstNonEmpty(cleanISBN(fields[ColumnISBN13]), cleanISBN(fields[ColumnISBN])),
	}

	year := coerceYear(fields[ColumnYearPublished])
	if year == nil {
		year = coerceYear(fields[ColumnOriginalPublished])
	}
	book.YearPublished = year

	return book, true
}
