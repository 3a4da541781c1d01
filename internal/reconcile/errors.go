package reconcile

import (
	"errors"
	"fmt"

	"readinghabits/internal/goodreads"
	"readinghabits/internal/storage"
)

// ErrSuperseded is returned when a newer arrival committed before this one
var ErrSuperseded = errors.New("superseded by a newer arrival")

// ErrInvalidImport is returned for JSON imports of an unrecognized shape
var ErrInvalidImport = errors.New("unrecognized import format")

// ErrInvalidTargets is returned when a goal target is negative
var ErrInvalidTargets = errors.New("goal targets must not be negative")

// ComputeError reports a failure while deriving statistics or goal progress
type ComputeError struct {
	Err error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("failed to compute statistics: %v", e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// Kind classifies errors for the exposed error field
type Kind string

const (
	KindSourceRead   Kind = "source_read"
	KindCompute      Kind = "compute"
	KindPersistence  Kind = "persistence"
	KindInvalidInput Kind = "invalid_input"
	KindSuperseded   Kind = "superseded"
	KindUnknown      Kind = "unknown"
)

// Classify maps an error from any layer to its Kind
func Classify(err error) Kind {
	var (
		sourceErr  *goodreads.SourceReadError
		computeErr *ComputeError
		persistErr *storage.PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSuperseded):
		return KindSuperseded
	case errors.As(err, &sourceErr):
		return KindSourceRead
	case errors.As(err, &computeErr):
		return KindCompute
	case errors.As(err, &persistErr):
		return KindPersistence
	case errors.Is(err, ErrInvalidImport), errors.Is(err, ErrInvalidTargets):
		return KindInvalidInput
	default:
		return KindUnknown
	}
}

// ErrorInfo is the user-visible form of an error
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func newErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: Classify(err), Message: err.Error()}
}
