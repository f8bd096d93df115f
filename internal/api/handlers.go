package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hakim/scriptwatch/internal/jobs"
)

// maxBody caps a scan request.
const maxBody = 1 << 20

type healthResponse struct {
	Status string `json:"status"`
	Busy   bool   `json:"busy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Busy: s.busy.Load()})
}

type quarantineResponse struct {
	Threshold   int            `json:"threshold"`
	Quarantined []string       `json:"quarantined"`
	Blocks      map[string]int `json:"blocks"`
}

func (s *Server) handleListQuarantine(w http.ResponseWriter, _ *http.Request) {
	q := s.blocks.ListQuarantined()
	if q == nil {
		q = []string{}
	}
	writeJSON(w, http.StatusOK, quarantineResponse{
		Threshold:   s.blocks.Threshold(),
		Quarantined: q,
		Blocks:      s.blocks.Snapshot(),
	})
}

func (s *Server) handleResetQuarantine(w http.ResponseWriter, r *http.Request) {
	domain, err := url.PathUnescape(chi.URLParam(r, "domain"))
	if err != nil || domain == "" {
		writeError(w, http.StatusBadRequest, "invalid domain")
		return
	}

	found, err := s.blocks.Reset(domain)
	if err != nil {
		s.log.Error().Err(err).Str("domain", domain).Msg("quarantine reset failed")
		writeError(w, http.StatusInternalServerError, "could not persist reset")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "domain has no block history")
		return
	}
	s.log.Info().Str("domain", domain).Msg("quarantine reset")
	w.WriteHeader(http.StatusNoContent)
}

// handleScan runs one batch and streams its events as NDJSON. Only one
// batch runs at a time; a second request gets 409. Closing the connection
// cancels the batch.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if !s.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a batch is already running")
		return
	}
	defer s.busy.Store(false)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	list, err := jobs.Parse(body, jobs.FormatJSON)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch := s.runner.Start(r.Context(), list)
	log := s.log.With().Str("batch", batch.ID).Logger()
	log.Info().Int("jobs", len(list)).Msg("batch started over http")

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Batch-ID", batch.ID)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	writable := true
	for ev := range batch.Events() {
		if !writable {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			log.Warn().Err(err).Msg("client went away")
			batch.Stop()
			writable = false
			continue
		}
		_ = rc.Flush()
	}

	meta := batch.Wait()
	if s.OnComplete != nil {
		s.OnComplete(meta)
	}
}
