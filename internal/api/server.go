// Package api exposes the scanner over HTTP: quarantine management, a
// streaming batch endpoint and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/pipeline"
)

// Runner starts batches. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Start(ctx context.Context, jobs []models.ScanJob) *pipeline.Batch
}

// Quarantine is the block tracker surface the API needs.
type Quarantine interface {
	Snapshot() map[string]int
	ListQuarantined() []string
	Reset(rawURL string) (bool, error)
	Threshold() int
}

// Server wires handlers onto a chi router.
type Server struct {
	runner  Runner
	blocks  Quarantine
	metrics http.Handler
	log     zerolog.Logger

	busy atomic.Bool

	// OnComplete is called after every batch with its final metadata.
	OnComplete func(meta *models.BatchMeta)
}

// New creates a Server. metrics may be nil.
func New(runner Runner, blocks Quarantine, metrics http.Handler, log zerolog.Logger) *Server {
	return &Server{runner: runner, blocks: blocks, metrics: metrics, log: log}
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Get("/quarantine", s.handleListQuarantine)
	r.Delete("/quarantine/{domain}", s.handleResetQuarantine)
	r.Post("/scans", s.handleScan)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request")
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
