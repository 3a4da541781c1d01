package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"readinghabits/internal/goodreads"
	"readinghabits/internal/models"
)

// Payload is new data arriving at a session. The concrete types are
// CSVUpload, JSONImport and Books.
type Payload interface {
	source() string
}

// CSVUpload carries a Goodreads library export
type CSVUpload struct {
	Source io.Reader
}

// JSONImport carries a previously exported backup in any accepted shape
type JSONImport struct {
	Data []byte
}

// Books carries an already parsed collection
type Books struct {
	Books []models.ReadBook
}

func (CSVUpload) source() string  { return "csv" }
func (JSONImport) source() string { return "json" }
func (Books) source() string      { return "books" }

// Import is a JSON backup resolved to the canonical working collection
type Import struct {
	Books []models.ReadBook
	// Targets holds goal targets carried by the backup, if any
	Targets *models.Targets
	Skipped int
}

type importDocument struct {
	ReadingData  json.RawMessage      `json:"readingData"`
	Books        json.RawMessage      `json:"books"`
	GoalProgress *models.GoalProgress `json:"goalProgress"`
}

// DecodeImport resolves the accepted backup shapes:
//
//	{"readingData": [...]}
//	{"readingData": {"books": [...]}}
//	{"books": [...], "stats": ..., "goalProgress": ...}
//	[...]
//
// Supplied stats are never read.
func DecodeImport(data []byte, loc *time.Location, logger *zap.Logger) (Import, error) {
	var shape any
	if err := json.Unmarshal(data, &shape); err != nil {
		return Import{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	var (
		raw     json.RawMessage
		targets *models.Targets
	)
	switch shape.(type) {
	case []any:
		raw = data
	case map[string]any:
		var doc importDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return Import{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
		}
		raw = doc.Books
		if isPresent(doc.ReadingData) {
			raw = doc.ReadingData
			var nested struct {
				Books json.RawMessage `json:"books"`
			}
			if json.Unmarshal(doc.ReadingData, &nested) == nil && isPresent(nested.Books) {
				raw = nested.Books
			}
		}
		if doc.GoalProgress != nil {
			t := doc.GoalProgress.Targets()
			if t.Yearly > 0 || t.Monthly > 0 {
				targets = &t
			}
		}
	default:
		return Import{}, fmt.Errorf("%w: expected an object or an array", ErrInvalidImport)
	}

	if !isPresent(raw) {
		return Import{}, fmt.Errorf("%w: no books found", ErrInvalidImport)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return Import{}, fmt.Errorf("%w: books must be an array", ErrInvalidImport)
	}

	records := make([]map[string]any, len(elements))
	for i, el := range elements {
		// non-object elements stay nil and are skipped by the parser
		_ = json.Unmarshal(el, &records[i])
	}

	result := goodreads.ParseRecords(records, goodreads.Options{Location: loc, Logger: logger})
	return Import{Books: result.Books, Targets: targets, Skipped: result.Skipped}, nil
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
