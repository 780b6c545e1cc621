// Package aggregate reduces ensembles of per-replicate estimates into
// five-point quantile summaries. All reductions here are commutative and
// order-independent: permuting the input samples never changes a result,
// which is what lets bootstrap workers complete in any order.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mtvedt/qalyboot/internal/models"
)

// ErrDegenerateQuantiles marks a quantile computation attempted on fewer
// than two values. Callers surface it per coefficient or per group rather
// than substituting a placeholder.
var ErrDegenerateQuantiles = errors.New("quantile input requires at least two values")

// Quantile returns the empirical q-quantile of samples (0 <= q <= 1) using
// linear interpolation between order statistics. The input slice is not
// modified.
func Quantile(samples []float64, q float64) (float64, error) {
	if len(samples) < 2 {
		return 0, fmt.Errorf("%w: got %d", ErrDegenerateQuantiles, len(samples))
	}
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("quantile probability %v outside [0, 1]", q)
	}

	tmp := make([]float64, len(samples))
	copy(tmp, samples)
	sort.Float64s(tmp)

	return quantileSorted(tmp, q), nil
}

// quantileSorted interpolates the q-quantile on an already sorted slice.
func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}

	frac := pos - float64(lo)
	return sorted[lo]*(1.0-frac) + sorted[hi]*frac
}

// Summary computes the fixed five-point quantile map over samples. It
// rejects inputs with fewer than two values or any non-finite value.
func Summary(samples []float64) (models.Quantiles, error) {
	if len(samples) < 2 {
		return models.Quantiles{}, fmt.Errorf("%w: got %d", ErrDegenerateQuantiles, len(samples))
	}

	tmp := make([]float64, len(samples))
	copy(tmp, samples)
	for i, v := range tmp {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Quantiles{}, fmt.Errorf("sample %d is not finite", i)
		}
	}
	sort.Float64s(tmp)

	return models.Quantiles{
		P025: quantileSorted(tmp, models.Probabilities[0]),
		P25:  quantileSorted(tmp, models.Probabilities[1]),
		P50:  quantileSorted(tmp, models.Probabilities[2]),
		P75:  quantileSorted(tmp, models.Probabilities[3]),
		P975: quantileSorted(tmp, models.Probabilities[4]),
	}, nil
}
