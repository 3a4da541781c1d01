// Package httpapi serves the reading tracker's JSON API. Every response
// about a user's data is derived from the session's read accessor.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"readinghabits/internal/reconcile"
	"readinghabits/internal/storage"
)

// DefaultMaxUploadBytes caps CSV and JSON request bodies
const DefaultMaxUploadBytes = 10 << 20

// Server handles HTTP requests for the tracker
type Server struct {
	registry     *reconcile.Registry
	logger       *zap.Logger
	botToken     string
	allowedUsers map[int64]bool
	maxUpload    int64
	clock        func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithTelegramAuth enables Mini App authentication against botToken
func WithTelegramAuth(botToken string, allowedUsers []int64) Option {
	return func(s *Server) {
		s.botToken = botToken
		s.allowedUsers = make(map[int64]bool, len(allowedUsers))
		for _, id := range allowedUsers {
			s.allowedUsers[id] = true
		}
	}
}

// WithMaxUploadBytes overrides DefaultMaxUploadBytes
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// NewServer creates a new API server over registry
func NewServer(registry *reconcile.Registry, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry:  registry,
		logger:    logger,
		maxUpload: DefaultMaxUploadBytes,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers API routes on the provided mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/data", s.withSession(s.handleData))
	mux.HandleFunc("DELETE /api/data", s.withSession(s.handleClear))
	mux.HandleFunc("POST /api/upload", s.withSession(s.handleUpload))
	mux.HandleFunc("POST /api/import", s.withSession(s.handleImport))
	mux.HandleFunc("PUT /api/goals", s.withSession(s.handleGoals))
	mux.HandleFunc("POST /api/recalculate", s.withSession(s.handleRecalculate))
	mux.HandleFunc("GET /api/breakdown", s.withSession(s.handleBreakdown))
	mux.HandleFunc("GET /api/goals/projection", s.withSession(s.handleProjection))
	mux.HandleFunc("GET /api/books", s.withSession(s.handleBooks))
	mux.HandleFunc("GET /api/authors", s.withSession(s.handleAuthors))
	mux.HandleFunc("GET /api/export", s.withSession(s.handleExport))
}

// Handler returns the routes wrapped with request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.RequestLogging(mux)
}

type ctxKey int

const requestIDKey ctxKey = iota

// RequestLogging assigns every request a ULID and logs its outcome
func (s *Server) RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ulid.Make().String()
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		s.logger.Debug("Handled request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	id, _ := r.Context().Value(requestIDKey).(string)
	return s.logger.With(zap.String("request_id", id))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session *reconcile.Session)

// withSession resolves the caller's identity and session. Mini App
// requests carry "Authorization: tma <initData>"; everyone else is
// anonymous and may name a client with X-Client-ID.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := s.requestLogger(r)

		id, err := s.identify(r)
		if err != nil {
			logger.Warn("Failed to identify request",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
			)
			status := http.StatusUnauthorized
			if errors.Is(err, errInvalidClientID) {
				status = http.StatusBadRequest
			}
			writeError(w, status, "", err.Error())
			return
		}

		session, err := s.registry.Get(r.Context(), id)
		if err != nil {
			// the session stays usable; its view carries the load error
			logger.Error("Failed to load session", zap.String("identity", id.Key), zap.Error(err))
		}
		next(w, r, session)
	}
}

func (s *Server) identify(r *http.Request) (storage.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return AnonymousIdentity(r.Header.Get("X-Client-ID"))
	}
	if !strings.HasPrefix(authHeader, "tma ") || s.botToken == "" {
		return storage.Identity{}, errUnauthorized
	}

	userID, err := validateTelegramInitData(strings.TrimPrefix(authHeader, "tma "), s.botToken, s.allowedUsers, s.clock())
	if err != nil {
		return storage.Identity{}, errors.Join(errUnauthorized, err)
	}
	return storage.TelegramIdentity(userID), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error reconcile.ErrorInfo `json:"error"`
}

func writeError(w http.ResponseWriter, status int, kind reconcile.Kind, message string) {
	writeJSON(w, status, errorBody{Error: reconcile.ErrorInfo{Kind: kind, Message: message}})
}

// writeFailure reports an operation error together with the session view
func writeFailure(w http.ResponseWriter, logger *zap.Logger, view reconcile.View, err error) {
	kind := reconcile.Classify(err)
	status := statusFor(kind)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		logger.Warn("Request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}

	writeJSON(w, status, struct {
		errorBody
		View reconcile.View `json:"view"`
	}{
		errorBody: errorBody{Error: reconcile.ErrorInfo{Kind: kind, Message: err.Error()}},
		View:      view,
	})
}

func statusFor(kind reconcile.Kind) int {
	switch kind {
	case reconcile.KindInvalidInput:
		return http.StatusBadRequest
	case reconcile.KindSourceRead:
		return http.StatusUnprocessableEntity
	case reconcile.KindSuperseded:
		return http.StatusConflict
	case reconcile.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
