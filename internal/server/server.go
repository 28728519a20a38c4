package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"ocr-rag/internal/metrics"
	"ocr-rag/internal/models"
	"ocr-rag/internal/rag"
	"ocr-rag/internal/vectorstore"
)

const maxBodyBytes = 1 << 20

type Answerer interface {
	Answer(ctx context.Context, index rag.Retriever, question string, k int) (*models.Answer, error)
}

// errorHandler writes a response for err and reports whether it matched.
type errorHandler func(w http.ResponseWriter, err error) bool

type Server struct {
	handle        *vectorstore.Handle
	answerer      Answerer
	collection    string
	topK          int
	errorHandlers []errorHandler
}

type ragRequest struct {
	Question string `json:"question"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Collection string `json:"collection"`
	Index      string `json:"index"`
}

func New(handle *vectorstore.Handle, answerer Answerer, collection string, topK int) *Server {
	return &Server{
		handle:     handle,
		answerer:   answerer,
		collection: collection,
		topK:       topK,
		errorHandlers: []errorHandler{
			sentinelHandler(rag.ErrEmptyQuestion, http.StatusBadRequest, "Missing 'question' in JSON body."),
			sentinelHandler(vectorstore.ErrNotReady, http.StatusServiceUnavailable, "Vector store not initialized."),
			sentinelHandler(vectorstore.ErrIndexFailed, http.StatusServiceUnavailable, "Vector store not initialized."),
		},
	}
}

// Routes returns the router serving /health, /rag and /metrics.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(accessLog)
	r.Use(metrics.Middleware())

	r.Get("/health", s.Health)
	r.Post("/rag", s.RAG)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Health handles GET /health. It answers whether or not ingestion has finished.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Collection: s.collection,
		Index:      s.handle.State().String(),
	})
}

// RAG handles POST /rag.
func (s *Server) RAG(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid request body."})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.handleError(w, r, rag.ErrEmptyQuestion)
		return
	}

	index, err := s.handle.Index()
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	answer, err := s.answerer.Answer(r.Context(), index, req.Question, s.topK)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			hlog.FromRequest(r).Warn().Err(err).Msg("Request rejected")
			return
		}
	}
	hlog.FromRequest(r).Error().Err(err).Msg("RAG request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Internal server error."})
}

func sentinelHandler(sentinel error, status int, detail string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeJSON(w, status, errorResponse{Detail: detail})
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonRecoverer turns a handler panic into an opaque JSON 500.
func jsonRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				log.Error().Interface("panic", rvr).Str("path", r.URL.Path).Msg("Panic recovered")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Internal server error."})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// accessLog emits one line per request tagged with the chi request id.
func accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		level := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}
		hlog.FromRequest(r).WithLevel(level).
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("latency", duration).
			Msg("http_request")
	})(next)
}
