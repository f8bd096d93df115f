package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchMeta contains metadata about a batch run
type BatchMeta struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Status      BatchStatus    `json:"status"`
	Total       int            `json:"total"`
	Processed   int            `json:"processed"`
	Counts      map[Status]int `json:"counts"`
	Preset      string         `json:"preset,omitempty"`
}

// NewBatch creates a batch record for total jobs
func NewBatch(total int) *BatchMeta {
	return &BatchMeta{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Status:    BatchRunning,
		Total:     total,
		Counts:    make(map[Status]int),
	}
}

// Tally records one emitted result against the batch counters.
func (b *BatchMeta) Tally(r ScanResult) {
	if b.Counts == nil {
		b.Counts = make(map[Status]int)
	}
	b.Counts[r.Status]++
	b.Processed++
}

// Finish marks the batch terminal.
func (b *BatchMeta) Finish(status BatchStatus) {
	now := time.Now()
	b.Status = status
	b.CompletedAt = &now
}
