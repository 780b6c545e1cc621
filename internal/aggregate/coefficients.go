package aggregate

import (
	"fmt"
	"sort"

	"github.com/mtvedt/qalyboot/internal/models"
)

// InterceptName is the name fit adapters give the model intercept. The
// intercept has no standalone causal interpretation in this design and is
// excluded from reported summaries.
const InterceptName = "(Intercept)"

// CollectSamples flattens the fixed-effect estimates of the given retained
// replicates into coefficient samples, one row per (replicate, coefficient).
// Replicates are visited in index order and coefficients in name order, so
// the output is deterministic.
func CollectSamples(retained []*models.BootstrapReplicate) []models.CoefficientSample {
	samples := make([]models.CoefficientSample, 0, len(retained)*4)
	for _, rep := range retained {
		coefs := rep.Fitted.Coefficients()
		names := make([]string, 0, len(coefs))
		for name := range coefs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			samples = append(samples, models.CoefficientSample{
				Name:      name,
				Replicate: rep.Index,
				Estimate:  coefs[name],
			})
		}
	}
	return samples
}

// Coefficients summarizes the sample set into one CoefficientSummary per
// non-intercept coefficient: the five-point empirical quantiles of the
// estimates across retained replicates, plus the sign-based significance
// flag. Every coefficient must appear in exactly `retained` samples; a
// mismatch means the fit adapter changed its coefficient set between
// replicates, which the fixed model specification rules out.
//
// Summaries are returned sorted by coefficient name.
func Coefficients(samples []models.CoefficientSample, retained int) ([]models.CoefficientSummary, error) {
	byName := make(map[string][]float64)
	for _, s := range samples {
		byName[s.Name] = append(byName[s.Name], s.Estimate)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		if name == InterceptName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]models.CoefficientSummary, 0, len(names))
	for _, name := range names {
		values := byName[name]
		if len(values) != retained {
			return nil, fmt.Errorf("coefficient %q has %d samples, want %d", name, len(values), retained)
		}
		q, err := Summary(values)
		if err != nil {
			return nil, fmt.Errorf("coefficient %q: %w", name, err)
		}
		summaries = append(summaries, models.CoefficientSummary{
			Name:        name,
			Quantiles:   q,
			Significant: q.SharesSign(),
		})
	}
	return summaries, nil
}
