package models

import "errors"

// FittedModel is the opaque handle a fit adapter returns for a converged
// fit. The pipeline only ever reads coefficients and asks for predictions;
// everything else about the fitted model stays inside the adapter.
type FittedModel interface {
	// HandleID identifies this particular fit, for logging and archiving.
	HandleID() string
	// Coefficients returns the fixed-effect estimates keyed by coefficient
	// name. The intercept, when present, is named "(Intercept)".
	Coefficients() map[string]float64
	// Predict returns one predicted utility per record of the given panel,
	// in record order. It is a pure function of the handle and the record
	// covariates.
	Predict(panel Panel) ([]float64, error)
}

// BootstrapReplicate is the outcome of one resample-and-fit attempt.
// Replicates are mutually independent: each owns its resampled panel and
// fitted handle exclusively, and none is persisted after aggregation.
type BootstrapReplicate struct {
	Index       int         // 1..N
	Panel       Panel       // Resampled panel with synthetic cluster ids
	Fitted      FittedModel // nil when the fit did not converge
	Diagnostics []string    // Warnings reported by the fit adapter
}

// Retained reports whether this replicate survives filtering: the fit
// converged and produced no diagnostics. Any warning at all drops the
// replicate entirely.
func (r *BootstrapReplicate) Retained() bool {
	return r.Fitted != nil && len(r.Diagnostics) == 0
}

// Validate checks that the replicate is structurally sound.
func (r *BootstrapReplicate) Validate() error {
	if r.Index < 1 {
		return errors.New("replicate index must be at least 1")
	}
	if len(r.Panel) == 0 {
		return errors.New("replicate panel must not be empty")
	}
	if r.Fitted == nil && len(r.Diagnostics) == 0 {
		return errors.New("failed replicate must carry at least one diagnostic")
	}
	return nil
}
