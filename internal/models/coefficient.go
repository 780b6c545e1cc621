package models

import "errors"

// Probabilities are the five probabilities every quantile summary in the
// pipeline is computed at. The set is not configurable.
var Probabilities = [5]float64{0.025, 0.25, 0.5, 0.75, 0.975}

// Quantiles is the five-point empirical quantile summary attached to every
// coefficient and group band, ordered by probability.
type Quantiles struct {
	P025 float64 `json:"p025"`
	P25  float64 `json:"p25"`
	P50  float64 `json:"p50"`
	P75  float64 `json:"p75"`
	P975 float64 `json:"p975"`
}

// Values returns the five quantile values ordered by probability.
func (q Quantiles) Values() [5]float64 {
	return [5]float64{q.P025, q.P25, q.P50, q.P75, q.P975}
}

// Monotonic reports whether the quantile values are non-decreasing in
// probability. A violation indicates a computation bug, never valid data.
func (q Quantiles) Monotonic() bool {
	v := q.Values()
	for i := 1; i < len(v); i++ {
		if v[i] < v[i-1] {
			return false
		}
	}
	return true
}

// SharesSign reports whether all five quantile values are strictly positive
// or all strictly negative. A zero anywhere counts as straddling.
func (q Quantiles) SharesSign() bool {
	v := q.Values()
	if v[0] > 0 {
		return v[4] > 0 && q.Monotonic()
	}
	if v[4] < 0 {
		return v[0] < 0 && q.Monotonic()
	}
	return false
}

// CoefficientSample is one fixed-effect estimate from one retained
// replicate. The full sample set for a coefficient has one row per retained
// replicate.
type CoefficientSample struct {
	Name      string  `json:"name"`
	Replicate int     `json:"replicate"`
	Estimate  float64 `json:"estimate"`
}

// CoefficientSummary is the aggregated uncertainty summary for one
// non-intercept fixed-effect coefficient.
//
// Significant is a sign-based non-zero-exclusion heuristic: true iff all
// five quantiles share one strict sign. It is not a formal hypothesis test
// and must not be read as a p-value.
type CoefficientSummary struct {
	Name        string    `json:"name"`
	Quantiles   Quantiles `json:"quantiles"`
	Significant bool      `json:"significant"`
}

// Validate checks that the summary is internally consistent.
func (s *CoefficientSummary) Validate() error {
	if s.Name == "" {
		return errors.New("coefficient name must not be empty")
	}
	if !s.Quantiles.Monotonic() {
		return errors.New("quantile values must be non-decreasing in probability")
	}
	if s.Significant != s.Quantiles.SharesSign() {
		return errors.New("significant flag must match the quantile signs")
	}
	return nil
}
