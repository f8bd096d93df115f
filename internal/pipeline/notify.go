package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hakim/scriptwatch/internal/models"
)

// NotifyConfig configures where to send completion notifications.
type NotifyConfig struct {
	WebhookURL string // if empty, no notifications
	Client     *http.Client
}

// completionPayload is the JSON body posted to the webhook endpoint.
type completionPayload struct {
	BatchID        string         `json:"batch_id"`
	Status         string         `json:"status"`
	Preset         string         `json:"preset,omitempty"`
	Total          int            `json:"total"`
	Processed      int            `json:"processed"`
	Counts         map[string]int `json:"counts"`
	Quarantined    []string       `json:"quarantined"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
}

// SendCompletion posts the batch summary to the webhook URL.
// Returns nil if WebhookURL is empty. Callers treat errors as warnings.
func (n *NotifyConfig) SendCompletion(ctx context.Context, meta *models.BatchMeta, quarantined []string) error {
	if n == nil || n.WebhookURL == "" || meta == nil {
		return nil
	}

	end := time.Now()
	if meta.CompletedAt != nil {
		end = *meta.CompletedAt
	}
	counts := make(map[string]int, len(meta.Counts))
	for st, c := range meta.Counts {
		counts[string(st)] = c
	}
	if quarantined == nil {
		quarantined = []string{}
	}

	body, err := json.Marshal(completionPayload{
		BatchID:        meta.ID,
		Status:         string(meta.Status),
		Preset:         meta.Preset,
		Total:          meta.Total,
		Processed:      meta.Processed,
		Counts:         counts,
		Quarantined:    quarantined,
		ElapsedSeconds: end.Sub(meta.StartedAt).Seconds(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: posting to %s: %w", n.WebhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned non-2xx status %d", resp.StatusCode)
	}
	return nil
}
