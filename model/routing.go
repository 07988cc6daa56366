package model

import "time"

// ModelRouting is the per-category primary/fallback provider+model pairing.
// It is read-only from the pipeline's perspective and edited from the admin
// surface.
type ModelRouting struct {
	ID               int64         `json:"-"`
	Category         string        `json:"category"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	FallbackProvider string        `json:"fallback_provider,omitempty"`
	FallbackModel    string        `json:"fallback_model,omitempty"`
	Timeout          time.Duration `json:"timeout"`
	PromptTemplate   string        `json:"prompt_template,omitempty"`
	Active           bool          `json:"active"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// HasFallback reports whether a fallback pair is configured.
func (r *ModelRouting) HasFallback() bool {
	return r.FallbackProvider != "" && r.FallbackModel != ""
}
