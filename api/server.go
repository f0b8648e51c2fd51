// Package api exposes the chat pipeline and collection maintenance over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/chat"
	"github.com/fabfab/policy-rag/ingestion"
	"github.com/fabfab/policy-rag/logging"
	"github.com/fabfab/policy-rag/ragerr"
)

const defaultRequestTimeout = 3 * time.Minute

// Answerer runs one chat turn.
type Answerer interface {
	Answer(ctx context.Context, query string, history []string) (chat.Answer, error)
}

// Recorder persists interaction log entries.
type Recorder interface {
	Record(v any) error
}

// Ingester rebuilds the collection from a directory.
type Ingester interface {
	IngestDirectory(ctx context.Context, dir string) (ingestion.Report, error)
}

// Clearer removes the collection.
type Clearer interface {
	Clear(ctx context.Context) error
}

type Dependencies struct {
	Chat     Answerer
	Recorder Recorder
	Ingester Ingester
	Clearer  Clearer
	DataDir  string
	Logger   *zap.Logger
	// RequestTimeout bounds every route except /v1/ingest, whose rebuild runs until done
	// or the client goes away. Zero means three minutes.
	RequestTimeout time.Duration
}

// Server exposes HTTP handlers for the policy assistant.
type Server struct {
	deps     Dependencies
	logger   *zap.Logger
	validate *validator.Validate
	handler  http.Handler

	// ingesting is held for the duration of a rebuild; rebuilds never overlap.
	ingesting sync.Mutex
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type chatRequest struct {
	Message string   `json:"message" validate:"required,max=4000"`
	History []string `json:"history" validate:"max=100"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type ingestRequest struct {
	Dir string `json:"dir"`
}

type ingestResponse struct {
	Collection string          `json:"collection"`
	Documents  int             `json:"documents"`
	Chunks     int             `json:"chunks"`
	Failures   []ingestFailure `json:"failures,omitempty"`
}

type ingestFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

func New(deps Dependencies) *Server {
	s := &Server{
		deps:     deps,
		logger:   logging.OrNop(deps.Logger),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	timeout := s.deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Get("/healthz", s.handleHealth)
		r.Post("/chat", s.handleChat)
		r.Post("/v1/clear", s.handleClear)
	})
	r.Post("/v1/ingest", s.handleIngest)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("chat is not configured"))
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, ragerr.New(ragerr.KindValidation, "chat request", err))
		return
	}

	answer, err := s.deps.Chat.Answer(r.Context(), req.Message, req.History)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.Record(answer.Log); err != nil {
			s.logger.Warn("interaction log not recorded", zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, chatResponse{Response: answer.Response})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("ingestion is not configured"))
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = s.deps.DataDir
	}

	if !s.ingesting.TryLock() {
		s.writeError(w, http.StatusConflict, errors.New("ingestion already running"))
		return
	}
	defer s.ingesting.Unlock()

	s.logger.Info("ingesting documents", zap.String("dir", dir))
	report, err := s.deps.Ingester.IngestDirectory(r.Context(), dir)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("ingestion failed: %w", err))
		return
	}

	resp := ingestResponse{
		Collection: report.Collection,
		Documents:  len(report.Documents),
		Chunks:     report.Chunks,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, ingestFailure{Path: f.Path, Error: f.Err.Error()})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clearer == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("clear is not configured"))
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, errors.New("confirm must be true to clear data"))
		return
	}

	if err := s.deps.Clearer.Clear(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear collection: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "collection cleared"})
}

func statusFor(err error) int {
	switch ragerr.KindOf(err) {
	case ragerr.KindValidation:
		return http.StatusBadRequest
	case ragerr.KindRetrieval:
		// Index unreachable or the collection has not been ingested yet.
		return http.StatusServiceUnavailable
	case ragerr.KindEmbedding, ragerr.KindGeneration, ragerr.KindRerank:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("api error", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(ragerr.KindOf(err))})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
