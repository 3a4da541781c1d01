package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"readinghabits/internal/models"
)

// ExportVersion is written into every export document
const ExportVersion = "1.0.0"

// Export is the downloadable backup of a session. DecodeImport reads it back.
type Export struct {
	ReadingData  []models.ReadBook   `json:"readingData"`
	Stats        models.ReadingStats `json:"stats"`
	GoalProgress models.GoalProgress `json:"goalProgress"`
	ExportDate   time.Time           `json:"exportDate"`
	Version      string              `json:"version"`
}

// NewExport builds the export document for view, stamped at now
func NewExport(view View, now time.Time) Export {
	books := view.ReadingData
	if books == nil {
		books = []models.ReadBook{}
	}
	return Export{
		ReadingData:  books,
		Stats:        view.Stats,
		GoalProgress: view.GoalProgress,
		ExportDate:   now.UTC(),
		Version:      ExportVersion,
	}
}

// FileName returns reading-tracker-export-<YYYY-MM-DD>.json
func (e Export) FileName() string {
	return fmt.Sprintf("reading-tracker-export-%s.json", e.ExportDate.Format("2006-01-02"))
}

// Encode returns the indented JSON document
func (e Export) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return data, nil
}
