// Package models defines the core domain entities for the qalyboot pipeline.
// These models represent longitudinal utility measurements, bootstrap
// replicates, and the aggregated uncertainty summaries derived from them.
// All models include built-in validation to ensure data integrity throughout
// the pipeline.
//
// Terminology (matching the health-economics conventions the data follows):
//   - Respondent: one surveyed person, measured repeatedly over time. Under
//     resampling a respondent becomes one or more synthetic clusters.
//   - Survey: an ordered time-point key. Survey 1 is typically the first
//     post-onset measurement; the baseline survey is chosen by configuration.
//   - Utility: a health-status score bounded above by 1 (full health).
//     Negative values are legal (states considered worse than death).
package models

import (
	"errors"
	"math"
)

// UtilityRecord is one scored utility measurement for one respondent at one
// survey time point. Records arrive from the upstream value-set mapping and
// are immutable once loaded.
type UtilityRecord struct {
	RespondentID string  `json:"respondent_id"` // Opaque respondent identifier
	SurveyID     int     `json:"survey_id"`     // Ordered time-point key
	AgeGroup     string  `json:"age_group"`     // Categorical age band, e.g. "50-59"
	Sex          string  `json:"sex"`           // Categorical, e.g. "female"/"male"
	Utility      float64 `json:"utility"`       // Health utility, at most 1.0
	Acute        bool    `json:"acute"`         // First post-symptom-onset time point
}

// Validate checks that all record fields are valid.
func (r *UtilityRecord) Validate() error {
	if r.RespondentID == "" {
		return errors.New("respondent ID must not be empty")
	}
	if r.SurveyID < 0 {
		return errors.New("survey ID must not be negative")
	}
	if r.AgeGroup == "" {
		return errors.New("age group must not be empty")
	}
	if r.Sex == "" {
		return errors.New("sex must not be empty")
	}
	if math.IsNaN(r.Utility) || math.IsInf(r.Utility, 0) {
		return errors.New("utility must be a finite number")
	}
	if r.Utility > 1.0 {
		return errors.New("utility must not exceed 1.0")
	}
	return nil
}
