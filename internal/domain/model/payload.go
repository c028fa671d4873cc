package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// PayloadVersion is the current OptimizationPayload schema version. Payloads
// are validated on write and again on read so schema drift is caught at the
// boundary instead of silently accepted downstream.
const PayloadVersion = 1

// OptimizationPayload is the typed, versioned job payload. It carries the two
// mandatory sections: the subject's current content and the latest
// quality-score analysis.
type OptimizationPayload struct {
	Version  int             `json:"version"`
	Content  ContentSection  `json:"content"`
	Analysis AnalysisSection `json:"analysis"`
	System   SystemMetadata  `json:"system,omitempty"`
}

// ContentSection describes the subject's current content and metadata.
type ContentSection struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Excerpt   string `json:"excerpt,omitempty"`
	URL       string `json:"url,omitempty"`
	WordCount int    `json:"word_count,omitempty"`
}

// AnalysisSection describes the current quality-score analysis of the subject.
type AnalysisSection struct {
	Score       int             `json:"score"`
	TargetScore int             `json:"target_score"`
	Checks      []AnalysisCheck `json:"checks,omitempty"`
}

// AnalysisCheck is one rule outcome from the quality analysis.
type AnalysisCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// SystemMetadata identifies the dispatching installation. It is filled in by
// the dispatcher before the payload is stored, never by the caller.
type SystemMetadata struct {
	SiteURL       string    `json:"site_url,omitempty"`
	SiteName      string    `json:"site_name,omitempty"`
	PluginVersion string    `json:"plugin_version,omitempty"`
	SystemVersion string    `json:"system_version,omitempty"`
	DispatchedAt  time.Time `json:"dispatched_at,omitempty"`
}

// Validate checks the payload shape: both sections must be present and the
// scores must lie in [0,100].
func (p *OptimizationPayload) Validate() error {
	if p.Content.Title == "" && p.Content.Body == "" {
		return &ValidationError{Field: "payload.content", Reason: "content section is required"}
	}
	if p.Analysis.Score < 0 || p.Analysis.Score > 100 {
		return &ValidationError{Field: "payload.analysis.score", Reason: fmt.Sprintf("score %d out of range [0,100]", p.Analysis.Score)}
	}
	if p.Analysis.TargetScore < 0 || p.Analysis.TargetScore > 100 {
		return &ValidationError{Field: "payload.analysis.target_score", Reason: fmt.Sprintf("score %d out of range [0,100]", p.Analysis.TargetScore)}
	}
	return nil
}

// Encode stamps the current schema version and marshals the payload for
// storage. Callers never set the version themselves.
func (p *OptimizationPayload) Encode() (json.RawMessage, error) {
	cp := *p
	cp.Version = PayloadVersion
	return json.Marshal(&cp)
}

// DecodePayload parses and validates a stored payload. Rows written by older
// versions without a version stamp are rejected.
func DecodePayload(raw json.RawMessage) (*OptimizationPayload, error) {
	var p OptimizationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Version != PayloadVersion {
		return nil, &ValidationError{Field: "payload.version", Reason: fmt.Sprintf("unsupported version %d", p.Version)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// OptimizationResult is the typed result returned by the automation service.
type OptimizationResult struct {
	Version     int       `json:"version"`
	Score       int       `json:"score"`
	Iterations  int       `json:"iterations,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Validate checks result bounds at the automation-client boundary.
func (r *OptimizationResult) Validate() error {
	if r.Score < 0 || r.Score > 100 {
		return &ValidationError{Field: "result.score", Reason: fmt.Sprintf("score %d out of range [0,100]", r.Score)}
	}
	return nil
}
