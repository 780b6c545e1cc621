// Package fit estimates fixed-effect coefficients of a configured model
// formula on a utility panel.
//
// Two adapters are bundled. Both freeze their design schema (factor levels,
// column order, dummy-coding references) from a reference panel at
// construction, so every bootstrap replicate reports the same coefficient
// set regardless of which levels survive the resample:
//
//   - "ols": ordinary least squares on the fixed effects, the random part of
//     the formula ignored.
//   - "gls": feasible generalized least squares with a compound-symmetry
//     within-cluster covariance implied by the random intercept.
//
// A fit that completes but is statistically suspect (rank-deficient design,
// level lost in a resample) converges with diagnostics attached; the
// replicate filter drops it. A fit that cannot complete at all reports
// Converged false.
package fit

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/mtvedt/qalyboot/internal/models"
)

// DefaultFormula is the model specification used when none is configured:
// fixed effects for time point, sex, age group and the sex by age group
// interaction, plus a random intercept and random acute-period slope per
// cluster.
const DefaultFormula = "utility ~ survey + sex + agegroup + sex:agegroup + (1 + acute | cluster)"

// Result is the outcome of one fit attempt.
type Result struct {
	Converged   bool
	Model       models.FittedModel // nil unless Converged
	Diagnostics []string           // non-empty marks the fit suspect even when converged
}

// Fitter fits the frozen formula to one panel. Implementations are safe for
// concurrent use: Fit reads only the panel it is given and schema state
// frozen at construction.
type Fitter interface {
	Fit(panel models.Panel) Result
	Name() string
}

// New returns the named adapter with its schema frozen from the reference
// panel. baselineSurvey selects the dummy-coding reference level for the
// survey factor.
func New(name, formula string, reference models.Panel, baselineSurvey int) (Fitter, error) {
	f, err := ParseFormula(formula)
	if err != nil {
		return nil, fmt.Errorf("parse formula: %w", err)
	}
	schema, err := NewSchema(f, reference, baselineSurvey)
	if err != nil {
		return nil, fmt.Errorf("build design schema: %w", err)
	}

	switch name {
	case "ols":
		return &OLS{schema: schema}, nil
	case "gls":
		return &GLS{schema: schema}, nil
	default:
		return nil, fmt.Errorf("unknown fit adapter %q (want ols or gls)", name)
	}
}

// fittedModel is the opaque handle returned by a converged fit. Prediction
// re-encodes covariates through the frozen schema, so it is a pure function
// of the handle and the panel rows.
type fittedModel struct {
	handle string
	schema *Schema
	beta   []float64
}

func newFittedModel(schema *Schema, beta []float64) *fittedModel {
	return &fittedModel{
		handle: uuid.New().String(),
		schema: schema,
		beta:   beta,
	}
}

func (m *fittedModel) HandleID() string {
	return m.handle
}

func (m *fittedModel) Coefficients() map[string]float64 {
	coefs := make(map[string]float64, len(m.beta))
	for i, name := range m.schema.Columns() {
		coefs[name] = m.beta[i]
	}
	return coefs
}

func (m *fittedModel) Predict(panel models.Panel) ([]float64, error) {
	X, _, err := m.schema.Encode(panel)
	if err != nil {
		return nil, fmt.Errorf("encode prediction panel: %w", err)
	}
	rows, cols := X.Dims()
	preds := make([]float64, rows)
	for i := 0; i < rows; i++ {
		v := 0.0
		for j := 0; j < cols; j++ {
			v += X.At(i, j) * m.beta[j]
		}
		preds[i] = v
	}
	return preds, nil
}

// finite reports whether every coefficient is a usable number.
func (m *fittedModel) finite() bool {
	for _, b := range m.beta {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return false
		}
	}
	return true
}
