// Package api serves stored analysis runs over a read-only HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rgmining/fraudeagle/internal/analysis"
	"github.com/rgmining/fraudeagle/internal/store"
)

const (
	defaultReviewerLimit = 20
	maxLimit             = 10000
)

// RunStore is the subset of the results store the API reads from.
type RunStore interface {
	ListRuns(ctx context.Context, opts store.QueryOpts) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	TopReviewers(ctx context.Context, runID string, limit int) ([]analysis.ReviewerScore, error)
	ProductSummaries(ctx context.Context, runID string) ([]analysis.ProductSummary, error)
}

// Server serves the results API.
type Server struct {
	runs    RunStore
	metrics http.Handler
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer creates an API server. metrics may be nil, in which case
// /metrics is not routed.
func NewServer(runs RunStore, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		runs:    runs,
		metrics: metrics,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the traced HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "fraudeagle.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /v1/runs/latest", s.handleLatest)
	s.mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	s.mux.HandleFunc("GET /v1/runs/{id}/reviewers", s.handleReviewers)
	s.mux.HandleFunc("GET /v1/runs/{id}/products", s.handleProducts)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.QueryOpts{Dataset: q.Get("dataset")}

	limit, err := parseLimit(q.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Limit = limit

	if v := q.Get("converged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "converged must be a boolean")
			return
		}
		opts.OnlyConverged = b
	}
	if v := q.Get("since"); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a duration such as 24h")
			return
		}
		opts.Since = time.Now().Add(-dur)
	}

	runs, err := s.runs.ListRuns(r.Context(), opts)
	if err != nil {
		s.internalError(w, "listing runs", err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context(), store.QueryOpts{Limit: 1})
	if err != nil {
		s.internalError(w, "listing runs", err)
		return
	}
	if len(runs) == 0 {
		writeError(w, http.StatusNotFound, "no runs stored")
		return
	}
	writeJSON(w, http.StatusOK, runs[0])
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if s.storeError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleReviewers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultReviewerLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scores, err := s.runs.TopReviewers(r.Context(), r.PathValue("id"), limit)
	if s.storeError(w, err) {
		return
	}
	if scores == nil {
		scores = []analysis.ReviewerScore{}
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	sums, err := s.runs.ProductSummaries(r.Context(), r.PathValue("id"))
	if s.storeError(w, err) {
		return
	}
	if sums == nil {
		sums = []analysis.ProductSummary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

// storeError writes a response for err and reports whether it did.
func (s *Server) storeError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	default:
		s.internalError(w, "reading run", err)
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseLimit(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxLimit {
		return 0, errors.New("limit must be an integer between 1 and 10000")
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Header already sent so the status cannot change.
		slog.Default().Error("writeJSON: encode failed", "error", err)
	}
}
