package models

import "time"

// ScanJob is one unit of work: a site to verify.
type ScanJob struct {
	// Position is the caller's row key for the result. It is carried
	// through to the ScanResult unchanged.
	Position int `json:"position" yaml:"position"`

	DisplayName string `json:"display_name" yaml:"name" validate:"required"`
	TargetURL   string `json:"target_url" yaml:"url" validate:"required,web_url"`

	// Reference is an opaque caller key passed through unchanged.
	Reference string `json:"reference,omitempty" yaml:"reference"`

	// ExpectedProvider is informational only; it never affects evaluation.
	ExpectedProvider string `json:"expected_provider,omitempty" yaml:"expected_provider"`
}

// ScanResult is the verdict emitted for a ScanJob.
type ScanResult struct {
	Position    int       `json:"position"`
	DisplayName string    `json:"display_name"`
	TargetURL   string    `json:"target_url"`
	Reference   string    `json:"reference,omitempty"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	Category    Category  `json:"category"`
	Vendor      string    `json:"vendor"`
	Method      Method    `json:"method"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Verdict is the tier-independent part of a result.
type Verdict struct {
	Status   Status   `json:"status"`
	Message  string   `json:"message"`
	Category Category `json:"category"`
	Vendor   string   `json:"vendor"`
}

// ResultFor binds a verdict to the job it describes.
func ResultFor(job ScanJob, v Verdict, method Method, at time.Time) ScanResult {
	return ScanResult{
		Position:    job.Position,
		DisplayName: job.DisplayName,
		TargetURL:   job.TargetURL,
		Reference:   job.Reference,
		Status:      v.Status,
		Message:     v.Message,
		Category:    v.Category,
		Vendor:      v.Vendor,
		Method:      method,
		CheckedAt:   at,
	}
}
