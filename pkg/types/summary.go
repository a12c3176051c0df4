package types

import "time"

// FetchCounters tallies page retrieval outcomes per tier
type FetchCounters struct {
	HTTPOK       int `json:"http_ok"`
	HTTPFailed   int `json:"http_failed"`
	HTTPRetries  int `json:"http_retries"`
	Rendered     int `json:"rendered"`
	RenderFailed int `json:"render_failed"`
	BestEffort   int `json:"best_effort"`
}

// RunSummary is the diagnostic artifact persisted at the end of a run
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Region     string    `json:"region,omitempty"`
	StartURLs  []string  `json:"start_urls"`

	TargetCount    int  `json:"target_count"`
	SavedCount     int  `json:"saved_count"`
	PagesProcessed int  `json:"pages_processed"`
	EnrichedCount  int  `json:"enriched_count"`
	RenderEngaged  bool `json:"render_engaged"`

	MethodsObserved   []ExtractionMethod `json:"methods_observed"`
	MethodsNeverFired []ExtractionMethod `json:"methods_never_fired"`

	Fetches FetchCounters `json:"fetches"`
	Notes   []string      `json:"notes,omitempty"`
}

// Duration returns the wall time of the run
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
