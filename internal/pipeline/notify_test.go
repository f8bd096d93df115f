package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/scriptwatch/internal/models"
)

func TestSendCompletionPostsSummary(t *testing.T) {
	var got completionPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	meta := models.NewBatch(2)
	meta.Tally(models.ScanResult{Status: models.StatusPass})
	meta.Tally(models.ScanResult{Status: models.StatusUnverifiable})
	meta.StartedAt = time.Now().Add(-90 * time.Second)
	meta.Finish(models.BatchComplete)

	n := &NotifyConfig{WebhookURL: srv.URL}
	require.NoError(t, n.SendCompletion(context.Background(), meta, []string{"guarded.example"}))

	assert.Equal(t, meta.ID, got.BatchID)
	assert.Equal(t, "complete", got.Status)
	assert.Equal(t, 2, got.Processed)
	assert.Equal(t, 1, got.Counts["UNVERIFIABLE"])
	assert.Equal(t, []string{"guarded.example"}, got.Quarantined)
	assert.InDelta(t, 90, got.ElapsedSeconds, 2)
}

func TestSendCompletionRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &NotifyConfig{WebhookURL: srv.URL}
	err := n.SendCompletion(context.Background(), models.NewBatch(0), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSendCompletionWithoutWebhookIsNoop(t *testing.T) {
	var n *NotifyConfig
	assert.NoError(t, n.SendCompletion(context.Background(), models.NewBatch(1), nil))
	assert.NoError(t, (&NotifyConfig{}).SendCompletion(context.Background(), models.NewBatch(1), nil))
}
