package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/scriptwatch/internal/blocktrack"
	"github.com/hakim/scriptwatch/internal/browser"
	"github.com/hakim/scriptwatch/internal/metrics"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/pipeline"
	"github.com/hakim/scriptwatch/internal/probe"
)

type passProber struct{}

func (passProber) Probe(context.Context, string) probe.Outcome {
	return probe.Outcome{Verdict: &models.Verdict{
		Status:   models.StatusPass,
		Message:  "Found via HTTP: cdn.example/sdk.js",
		Category: models.CategorySTD,
		Vendor:   "Other",
	}}
}

type unusedVerifier struct{}

func (unusedVerifier) Verify(context.Context, browser.Driver, models.ScanJob) (models.Verdict, error) {
	return models.Verdict{}, browser.ErrDriverLost
}

type unusedLauncher struct{}

func (unusedLauncher) Launch(context.Context) (browser.Driver, error) {
	return nil, browser.ErrDriverLost
}

func newTestServer(t *testing.T) (*Server, *blocktrack.Tracker, *metrics.Collector) {
	t.Helper()
	tracker := blocktrack.Open(filepath.Join(t.TempDir(), "blocks.json"))
	m := metrics.New()
	orch, err := pipeline.New(pipeline.Config{}, pipeline.Deps{
		Prober:   passProber{},
		Verifier: unusedVerifier{},
		Launcher: unusedLauncher{},
		Tracker:  tracker,
		Observer: m,
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return New(orch, tracker, m.Handler(), zerolog.Nop()), tracker, m
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","busy":false}`, rec.Body.String())
}

func TestQuarantineListAndReset(t *testing.T) {
	s, tracker, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		_, _, err := tracker.RecordBlock("https://www.guarded.example/")
		require.NoError(t, err)
	}
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quarantine", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body quarantineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Threshold)
	assert.Equal(t, []string{"guarded.example"}, body.Quarantined)
	assert.Equal(t, 3, body.Blocks["guarded.example"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/quarantine/guarded.example", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, tracker.IsQuarantined("https://guarded.example/"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/quarantine/guarded.example", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanStreamsEvents(t *testing.T) {
	s, _, _ := newTestServer(t)
	var completed *models.BatchMeta
	s.OnComplete = func(meta *models.BatchMeta) { completed = meta }

	body := `{"jobs":[{"display_name":"A","target_url":"https://a.example/"},{"display_name":"B","target_url":"https://b.example/"}]}`
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scans", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var kinds []pipeline.EventKind
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var ev pipeline.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []pipeline.EventKind{
		pipeline.EventResult, pipeline.EventProgress,
		pipeline.EventResult, pipeline.EventProgress,
		pipeline.EventCompleted,
	}, kinds)

	require.NotNil(t, completed)
	assert.Equal(t, models.BatchComplete, completed.Status)
	assert.Equal(t, rec.Header().Get("X-Batch-ID"), completed.ID)
	assert.False(t, s.busy.Load())
}

func TestScanRejectsBadJobs(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scans",
		strings.NewReader(`[{"display_name":"X","target_url":"ftp://x.example/"}]`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "http(s) URL")
	assert.False(t, s.busy.Load())
}

func TestScanConflictWhileBusy(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.busy.Store(true)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scans",
		strings.NewReader(`[{"display_name":"A","target_url":"https://a.example/"}]`)))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scans",
		strings.NewReader(`[{"display_name":"A","target_url":"https://a.example/"}]`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `scriptwatch_results_total{method="http_quick",status="PASS"} 1`)
}
