package models

import (
	"errors"
	"time"
)

// RunSummary is the persisted outcome of one pipeline invocation: the
// parameters that produced it, the retention accounting, and the full set
// of aggregated outputs. Replicates themselves are never persisted.
type RunSummary struct {
	RunID          string               `json:"run_id"`
	CreatedAt      time.Time            `json:"created_at"`
	Dataset        string               `json:"dataset,omitempty"` // Source dataset label or path
	Seed           int64                `json:"seed"`
	Replicates     int                  `json:"replicates"`        // Requested N
	DrawSize       int                  `json:"draw_size"`         // Respondents drawn per replicate (K)
	Respondents    int                  `json:"respondents"`       // Distinct respondents in the input panel (M)
	Records        int                  `json:"records"`
	Retained       int                  `json:"retained"`
	Dropped        int                  `json:"dropped"`
	Formula        string               `json:"formula"`
	Adapter        string               `json:"adapter"`
	BaselineSurvey int                  `json:"baseline_survey"`
	Coefficients   []CoefficientSummary `json:"coefficients"`
	Bands          []GroupBand          `json:"bands"`
	Reference      []ReferenceEstimate  `json:"reference"`
	Elapsed        time.Duration        `json:"elapsed"`
}

// Validate checks that the summary fields are consistent with each other.
func (s *RunSummary) Validate() error {
	if s.RunID == "" {
		return errors.New("run ID must not be empty")
	}
	if s.Replicates < 1 {
		return errors.New("replicates must be at least 1")
	}
	if s.DrawSize < 1 {
		return errors.New("draw size must be at least 1")
	}
	if s.Retained < 0 || s.Dropped < 0 {
		return errors.New("retained and dropped counts must not be negative")
	}
	if s.Retained+s.Dropped > s.Replicates {
		return errors.New("retained + dropped must not exceed requested replicates")
	}
	if s.CreatedAt.After(time.Now()) {
		return errors.New("created at must not be in the future")
	}
	for i := range s.Coefficients {
		if err := s.Coefficients[i].Validate(); err != nil {
			return err
		}
	}
	for i := range s.Bands {
		if err := s.Bands[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
