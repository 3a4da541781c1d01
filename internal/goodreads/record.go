package goodreads

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"readinghabits/internal/models"
)

// ParseRecords normalizes the records of an imported JSON backup
func ParseRecords(records []map[string]any, opts Options) Result {
	logger := opts.logger()
	loc := opts.location()

	result := Result{Rows: len(records)}
	for i, record := range records {
		book, ok, err := extractRecord(record, loc)
		if err != nil {
			result.Skipped++
			logger.Debug("Skipping record that failed extraction",
				zap.Int("record", i),
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
	return result
}

func extractRecord(record map[string]any, loc *time.Location) (book models.ReadBook, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("record extraction panicked: %v", r)
		}
	}()

	if record == nil {
		return models.ReadBook{}, false, fmt.Errorf("record is null")
	}
	book, ok = ParseRecord(record, loc)
	return book, ok, nil
}

// ParseRecord maps one JSON backup object to a ReadBook. A record that names
// its shelf must be on the read shelf; records without a shelf are accepted.
func ParseRecord(record map[string]any, loc *time.Location) (models.ReadBook, bool) {
	if loc == nil {
		loc = time.Local
	}
	for _, key := range []string{"shelf", "exclusiveShelf"} {
		if raw, present := record[key]; present && raw != nil {
			if strings.TrimSpace(anyToString(raw)) != ReadShelf {
				return models.ReadBook{}, false
			}
		}
	}

	book := models.ReadBook{
		Title:       orDefault(cleanString(anyToString(record["title"])), models.UntitledBook),
		Author:      orDefault(cleanString(anyToString(record["author"])), models.UnknownAuthor),
		Publisher:   cleanString(anyToString(record["publisher"])),
		Binding:     cleanString(anyToString(record["binding"])),
		Bookshelves: cleanString(firstNonEmpty(anyToString(record["bookshelves"]), anyToString(record["genre"]))),
		ISBN:        firstNonEmpty(cleanISBN(anyToString(record["isbn"])), cleanISBN(anyToString(record["isbn13"]))),
	}

	if n, ok := anyToInt(record["myRating"]); ok && n >= 0 && n <= 5 {
		book.MyRating = n
	}
	if n, ok := anyToInt(record["pages"]); ok && n > 0 {
		book.Pages = n
	}
	if n, ok := anyToInt(record["yearPublished"]); ok && n > 0 {
		book.YearPublished = &n
	}

	switch v := record["dateRead"].(type) {
	case string:
		book.DateRead = parseTimestamp(v, loc)
	case float64:
		// epoch milliseconds
		if v > 0 {
			t := time.UnixMilli(int64(v)).In(loc)
			book.DateRead = &t
		}
	}

	return book, true
}
