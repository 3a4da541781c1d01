package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"readinghabits/internal/goals"
	"readinghabits/internal/reconcile"
	"readinghabits/internal/shelf"
	"readinghabits/internal/stats"
)

// handleData returns the session view
func (s *Server) handleData(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	writeJSON(w, http.StatusOK, session.View())
}

// handleUpload accepts a Goodreads CSV export as a multipart "file" field or
// as the raw request body
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	uploadID := ulid.Make().String()
	logger := s.requestLogger(r).With(zap.String("upload_id", uploadID))
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	source := io.Reader(r.Body)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		part, err := csvPart(r)
		if err != nil {
			logger.Warn("Failed to read multipart upload", zap.Error(err))
			writeError(w, http.StatusBadRequest, reconcile.KindInvalidInput, err.Error())
			return
		}
		defer part.Close()
		source = part
	}

	view, err := session.ProcessNewData(r.Context(), reconcile.CSVUpload{Source: source})
	if err != nil {
		writeFailure(w, logger, view, err)
		return
	}

	logger.Info("Processed CSV upload",
		zap.String("identity", session.Identity().Key),
		zap.Int("books", view.Stats.TotalBooks),
	)
	writeJSON(w, http.StatusOK, view)
}

// csvPart returns the first multipart part named "file"
func csvPart(r *http.Request) (io.ReadCloser, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New(`missing "file" field`)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// handleImport accepts a JSON backup in any supported shape
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	logger := s.requestLogger(r)

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, reconcile.KindInvalidInput, err.Error())
			return
		}
		logger.Warn("Failed to read import body", zap.Error(err))
		writeError(w, http.StatusBadRequest, reconcile.KindSourceRead, err.Error())
		return
	}

	view, err := session.ProcessNewData(r.Context(), reconcile.JSONImport{Data: data})
	if err != nil {
		writeFailure(w, logger, view, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GoalsRequest represents the request body for updating goal targets.
// Both fields are required; 0 means no goal.
type GoalsRequest struct {
	Yearly  *int `json:"yearly"`
	Monthly *int `json:"monthly"`
}

// handleGoals updates goal targets
func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	logger := s.requestLogger(r)

	var req GoalsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		logger.Warn("Failed to decode request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, reconcile.KindInvalidInput, "invalid request body")
		return
	}
	if req.Yearly == nil || req.Monthly == nil {
		writeError(w, http.StatusBadRequest, reconcile.KindInvalidInput, "yearly and monthly are required")
		return
	}

	view, err := session.UpdateGoals(r.Context(), *req.Yearly, *req.Monthly)
	if err != nil {
		writeFailure(w, logger, view, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleClear wipes the caller's data
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	if err := session.ClearAll(r.Context()); err != nil {
		writeFailure(w, s.requestLogger(r), session.View(), err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// handleRecalculate rebuilds the persisted aggregates
func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	view, err := session.Recalculate(r.Context())
	if err != nil {
		writeFailure(w, s.requestLogger(r), view, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	writeJSON(w, http.StatusOK, stats.Breakdown(session.View().ReadingData))
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	writeJSON(w, http.StatusOK, goals.Project(session.View().Stats, s.clock()))
}

// handleBooks lists books with sorting, filtering and paging
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, reconcile.KindInvalidInput, err.Error())
		return
	}

	page, err := shelf.Apply(session.View().ReadingData, q)
	if err != nil {
		writeError(w, http.StatusBadRequest, reconcile.KindInvalidInput, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	writeJSON(w, http.StatusOK, shelf.Authors(session.View().ReadingData))
}

// handleExport sends the session as a downloadable backup file
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, session *reconcile.Session) {
	export := reconcile.NewExport(session.View(), s.clock())
	data, err := export.Encode()
	if err != nil {
		s.requestLogger(r).Error("Failed to encode export", zap.Error(err))
		writeError(w, http.StatusInternalServerError, reconcile.KindUnknown, "failed to encode export")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName()))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func parseQuery(r *http.Request) (shelf.Query, error) {
	values := r.URL.Query()
	q := shelf.Query{
		SortBy: values.Get("sort"),
		Order:  values.Get("order"),
		Search: values.Get("q"),
		Author: values.Get("author"),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"minRating", &q.MinRating},
		{"page", &q.Page},
		{"perPage", &q.PerPage},
	}
	for _, p := range ints {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return shelf.Query{}, fmt.Errorf("invalid %s: %q", p.name, raw)
		}
		*p.dst = n
	}
	return q, nil
}
