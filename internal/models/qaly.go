package models

import "errors"

// QALY record types. Each names a reference the utility trajectory is
// integrated against.
const (
	// QALYRaw is the plain integral of utility over the observed span.
	QALYRaw = "raw"
	// QALYVsFullHealth integrates (1 - utility): the shortfall relative to
	// full health.
	QALYVsFullHealth = "vs-full-health"
	// QALYVsBaseline integrates (baseline utility - utility): the shortfall
	// relative to the respondent's own value at the baseline time point.
	QALYVsBaseline = "vs-baseline"
)

// QALYRecord is one QALY figure for one respondent under one reference
// type. Within a bootstrap replicate the respondent identifier is the
// synthetic cluster id of that replicate.
type QALYRecord struct {
	RespondentID string  `json:"respondent_id"`
	AgeGroup     string  `json:"age_group"`
	Sex          string  `json:"sex"`
	Type         string  `json:"type"`
	Value        float64 `json:"value"`
}

// Validate checks that all QALY record fields are valid.
func (r *QALYRecord) Validate() error {
	if r.RespondentID == "" {
		return errors.New("respondent ID must not be empty")
	}
	if r.AgeGroup == "" {
		return errors.New("age group must not be empty")
	}
	if r.Sex == "" {
		return errors.New("sex must not be empty")
	}
	if r.Type != QALYRaw && r.Type != QALYVsFullHealth && r.Type != QALYVsBaseline {
		return errors.New("QALY type must be raw, vs-full-health or vs-baseline")
	}
	return nil
}

// GroupDraw is the per-replicate group mean underlying a band: the average
// QALY value across a replicate's respondents for one (age group, type)
// cell. One row per (replicate, age group, type).
type GroupDraw struct {
	AgeGroup  string  `json:"age_group"`
	Type      string  `json:"type"`
	Replicate int     `json:"replicate"`
	Value     float64 `json:"value"`
}

// GroupBand is the cross-replicate uncertainty band for one
// (age group, QALY type) cell. It is the final output unit of the pipeline.
type GroupBand struct {
	AgeGroup  string    `json:"age_group"`
	Type      string    `json:"type"`
	Quantiles Quantiles `json:"quantiles"`
}

// Validate checks that the band is internally consistent.
func (b *GroupBand) Validate() error {
	if b.AgeGroup == "" {
		return errors.New("age group must not be empty")
	}
	if b.Type == "" {
		return errors.New("QALY type must not be empty")
	}
	if !b.Quantiles.Monotonic() {
		return errors.New("quantile values must be non-decreasing in probability")
	}
	return nil
}

// ReferenceEstimate is the non-bootstrap point estimate for one
// (age group, QALY type) cell, computed directly from the raw panel's
// observed utilities. It is the comparison point next to a band, not part
// of the uncertainty band itself.
type ReferenceEstimate struct {
	AgeGroup    string  `json:"age_group"`
	Type        string  `json:"type"`
	Mean        float64 `json:"mean"`
	Respondents int     `json:"respondents"`
}
