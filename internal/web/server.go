// Package web serves the browser review flow: show a word, reveal its
// dictionary entries, rate it and move on.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conorfennell/knolword/internal/dict"
	"github.com/conorfennell/knolword/internal/domain"
	"github.com/conorfennell/knolword/internal/metrics"
	"github.com/conorfennell/knolword/internal/review"
	"github.com/conorfennell/knolword/internal/wordkey"
)

//go:embed all:templates
var templateFiles embed.FS

// maxCachedAnswers bounds the resource cache filled by /answer.
const maxCachedAnswers = 64

// Server holds the dependencies for the HTTP server.
type Server struct {
	scheduler *review.Scheduler
	dicts     dict.Multi
	metrics   *metrics.Manager
	log       *slog.Logger
	templates *template.Template
	router    chi.Router

	mu        sync.Mutex
	pending   *domain.Item                 // shown but not yet rated
	resources map[string]map[string][]byte // wordkey.Dir -> dict.ResourcePath -> data
}

// NewServer creates and configures a new server.
func NewServer(scheduler *review.Scheduler, dicts dict.Multi, m *metrics.Manager, log *slog.Logger) (*Server, error) {
	tpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		scheduler: scheduler,
		dicts:     dicts,
		metrics:   m,
		log:       log,
		templates: tpl,
		router:    chi.NewRouter(),
		resources: make(map[string]map[string][]byte),
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.Use(requestID)
	s.router.Use(s.instrument)
	s.router.Use(s.recoverer)

	s.router.Get("/", s.handleIndex())
	s.router.Get("/api/next", s.handleGetNext())
	s.router.Post("/api/review", s.handlePostReview())
	s.router.Get("/answer/{word}", s.handleShowAnswer())
	s.router.Get("/resources/{dir}/*", s.handleResource())
	s.router.Get("/health", s.handleHealth())
	s.router.Handle("/metrics", s.metrics.Handler())
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, readTimeout time.Duration, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("review server listening", "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case <-ctx.Done():
		s.log.Info("shutting down review server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type reviewRequest struct {
	Word   string `json:"word"`
	Rating int    `json:"rating"`
}

type nextResponse struct {
	Word      string `json:"word,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Remaining int    `json:"remaining"`
	Finished  bool   `json:"finished"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleIndex renders the review page shell; the page pulls words from the API.
func (s *Server) handleIndex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := s.templates.ExecuteTemplate(w, "review.html", nil); err != nil {
			s.log.Error("failed to render review page", "error", err)
		}
	}
}

// next returns the word awaiting a rating, or asks the scheduler for a new one.
// Reloading the page therefore shows the same word instead of skipping it.
func (s *Server) next(ctx context.Context) (nextResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		it, err := s.scheduler.Next(ctx)
		if err != nil {
			return nextResponse{}, err
		}
		s.pending = it
	}
	remaining, err := s.scheduler.Remaining(ctx)
	if err != nil {
		return nextResponse{}, err
	}
	if s.pending == nil {
		return nextResponse{Finished: true}, nil
	}
	return nextResponse{
		Word:      s.pending.Key,
		Answer:    "/answer/" + url.PathEscape(s.pending.Key),
		Remaining: remaining,
	}, nil
}

// handleGetNext returns the next word to review as JSON.
func (s *Server) handleGetNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.next(r.Context())
		if err != nil {
			s.log.Error("failed to pick next word", "error", err, "request_id", RequestIDFrom(r.Context()))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to pick next word"})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handlePostReview applies a rating and returns the next word.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		rating, err := domain.ParseRating(req.Rating)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		if _, err := s.scheduler.Rate(r.Context(), req.Word, rating); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			default:
				s.log.Error("failed to rate word", "word", req.Word, "error", err, "request_id", RequestIDFrom(r.Context()))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to rate word"})
			}
			return
		}

		s.mu.Lock()
		if s.pending != nil && s.pending.Key == req.Word {
			s.pending = nil
		}
		s.mu.Unlock()

		resp, err := s.next(r.Context())
		if err != nil {
			s.log.Error("failed to pick next word", "error", err, "request_id", RequestIDFrom(r.Context()))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to pick next word"})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleShowAnswer renders every dictionary entry for a word.
func (s *Server) handleShowAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		word, err := pathParam(r, "word")
		if err != nil {
			http.Error(w, "Invalid word", http.StatusBadRequest)
			return
		}

		entries, err := s.dicts.LookupAll(word)
		if err != nil {
			// Entries from healthy dictionaries are still shown.
			s.log.Warn("dictionary lookup failed", "word", word, "error", err)
		}

		dir := wordkey.Dir(word)
		s.cacheResources(dir, entries)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := dict.Render(w, word, entries, "/resources/"+dir); err != nil {
			s.log.Error("failed to render answer", "word", word, "error", err)
		}
	}
}

func (s *Server) cacheResources(dir string, entries []dict.Entry) {
	merged := make(map[string][]byte)
	for i, e := range entries {
		for name, data := range e.Resources {
			merged[dict.ResourcePath(i, name)] = data
		}
	}
	if len(merged) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[dir]; !ok && len(s.resources) >= maxCachedAnswers {
		clear(s.resources)
	}
	s.resources[dir] = merged
}

// pathParam returns the decoded URL parameter key. chi matches against
// RawPath when the request carries one, leaving those values escaped.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

// handleResource serves a resource of a previously rendered answer.
func (s *Server) handleResource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dir := chi.URLParam(r, "dir")
		name, err := pathParam(r, "*")
		if err != nil {
			http.Error(w, "Invalid resource name", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		data, ok := s.resources[dir][name]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", dict.ContentType(name))
		w.Write(data)
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
