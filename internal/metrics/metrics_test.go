package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/scriptwatch/internal/models"
)

func TestCollector(t *testing.T) {
	c := New()

	c.ObserveResult(models.ScanResult{Status: models.StatusPass, Method: models.MethodQuick})
	c.ObserveResult(models.ScanResult{Status: models.StatusPass, Method: models.MethodQuick})
	c.ObserveResult(models.ScanResult{Status: models.StatusBlocked, Method: models.MethodBrowser})
	c.ObserveProbe(300*time.Millisecond, "challenge")
	c.ObserveProbe(200*time.Millisecond, "")
	c.ObserveRestart("scheduled")
	c.SetQuarantined(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.resultsTotal.WithLabelValues("PASS", "http_quick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.escalationsTotal.WithLabelValues("challenge")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.quarantined))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "scriptwatch_browser_restarts_total")
}
