// Package httpapi serves the engine's query interface as JSON over a
// loopback HTTP listener.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/services/engine"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// Engine is the part of engine.Engine the API exposes.
type Engine interface {
	Ready() bool
	CheckRequest(url, sourceURL, resourceType string) bool
	CheckRequestsBatch(reqs []domain.RawRequest) []bool
	CosmeticResources(pageURL string) domain.CosmeticResources
	HiddenSelectors(classes, ids []string, exceptions map[string]struct{}) []string
	TriggerUpdate(ctx context.Context) (int, error)
	Stats() engine.Stats
}

// Options configures a Server. Engine is required.
type Options struct {
	Engine Engine
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Logger  log.Logger
}

// Server routes the control API. It implements http.Handler.
type Server struct {
	engine Engine
	logger log.Logger
	router chi.Router
}

// New builds the router. Nil Logger means no request logging.
func New(opts Options) *Server {
	s := &Server{engine: opts.Engine, logger: opts.Logger}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Get("/ready", s.handleReady)
		r.Post("/check", s.handleCheck)
		r.Post("/check/batch", s.handleCheckBatch)
		r.Get("/cosmetic", s.handleCosmetic)
		r.Post("/hidden-selectors", s.handleHiddenSelectors)
		r.Post("/update", s.handleUpdate)
		r.Get("/stats", s.handleStats)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info(map[string]any{"addr": addr}, "http_api_listening")

	select {
	case err := <-errc:
		return fmt.Errorf("httpapi: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}, "http_request")
	})
}

// CheckRequest is the body of POST /v1/check. resource_type is a free-form label.
type CheckRequest struct {
	URL          string `json:"url"`
	SourceURL    string `json:"source_url"`
	ResourceType string `json:"resource_type"`
}

// CheckResponse is the answer to a single check.
type CheckResponse struct {
	Blocked bool `json:"blocked"`
}

// BatchRequest is the body of POST /v1/check/batch.
type BatchRequest struct {
	Requests []domain.RawRequest `json:"requests"`
}

// BatchResponse holds one verdict per request, in request order.
type BatchResponse struct {
	Blocked []bool `json:"blocked"`
}

// HiddenSelectorsRequest lists the classes and ids observed on a page and the
// selectors the caller already excepts.
type HiddenSelectorsRequest struct {
	Classes    []string `json:"classes"`
	IDs        []string `json:"ids"`
	Exceptions []string `json:"exceptions"`
}

// HiddenSelectorsResponse is the answer to POST /v1/hidden-selectors.
type HiddenSelectorsResponse struct {
	Selectors []string `json:"selectors"`
}

// ReadyResponse is the answer to GET /v1/ready.
type ReadyResponse struct {
	Ready bool `json:"ready"`
}

// UpdateResponse reports the size of the installed rule set.
type UpdateResponse struct {
	Rules int `json:"rules"`
}

// ErrorResponse is the body of the 400, 409 and 500 answers.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.engine.Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, ReadyResponse{Ready: ready})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !s.decode(w, r, &req) {
		return
	}
	blocked := s.engine.CheckRequest(req.URL, req.SourceURL, req.ResourceType)
	s.writeJSON(w, http.StatusOK, CheckResponse{Blocked: blocked})
}

func (s *Server) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, BatchResponse{Blocked: s.engine.CheckRequestsBatch(req.Requests)})
}

func (s *Server) handleCosmetic(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing url parameter"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.CosmeticResources(pageURL))
}

func (s *Server) handleHiddenSelectors(w http.ResponseWriter, r *http.Request) {
	var req HiddenSelectorsRequest
	if !s.decode(w, r, &req) {
		return
	}
	exc := make(map[string]struct{}, len(req.Exceptions))
	for _, e := range req.Exceptions {
		exc[e] = struct{}{}
	}
	sels := s.engine.HiddenSelectors(req.Classes, req.IDs, exc)
	s.writeJSON(w, http.StatusOK, HiddenSelectorsResponse{Selectors: sels})
}

// handleUpdate runs the rebuild synchronously. It is detached from the
// request context so a client disconnect does not abort it.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.TriggerUpdate(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, UpdateResponse{Rules: n})
	case errors.Is(err, engine.ErrUpdateInProgress):
		s.writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		s.logger.Warn(map[string]any{"error": err}, "http_update_failed")
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(map[string]any{"error": err}, "http_write_failed")
	}
}
