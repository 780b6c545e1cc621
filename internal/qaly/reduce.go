package qaly

import (
	"fmt"
	"sort"

	"github.com/mtvedt/qalyboot/internal/aggregate"
	"github.com/mtvedt/qalyboot/internal/models"
)

type groupKey struct {
	ageGroup string
	kind     string
}

// GroupMeans averages per-respondent QALY values within each
// (age group, type) cell of one replicate. Output order is deterministic:
// age group, then type.
func GroupMeans(records []models.QALYRecord, replicate int) []models.GroupDraw {
	sums := make(map[groupKey]float64)
	counts := make(map[groupKey]int)
	for _, rec := range records {
		k := groupKey{rec.AgeGroup, rec.Type}
		sums[k] += rec.Value
		counts[k]++
	}

	draws := make([]models.GroupDraw, 0, len(sums))
	for k, sum := range sums {
		draws = append(draws, models.GroupDraw{
			AgeGroup:  k.ageGroup,
			Type:      k.kind,
			Replicate: replicate,
			Value:     sum / float64(counts[k]),
		})
	}
	sortDraws(draws)
	return draws
}

// Bands reduces group means from all retained replicates into one quantile
// band per (age group, type). Every group must appear in at least two
// replicates; a group seen once cannot support a quantile band and is an
// error rather than a silent gap.
func Bands(draws []models.GroupDraw) ([]models.GroupBand, error) {
	values := make(map[groupKey][]float64)
	for _, d := range draws {
		k := groupKey{d.AgeGroup, d.Type}
		values[k] = append(values[k], d.Value)
	}

	keys := make([]groupKey, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ageGroup != keys[j].ageGroup {
			return keys[i].ageGroup < keys[j].ageGroup
		}
		return keys[i].kind < keys[j].kind
	})

	bands := make([]models.GroupBand, 0, len(keys))
	for _, k := range keys {
		q, err := aggregate.Summary(values[k])
		if err != nil {
			return nil, fmt.Errorf("group %s/%s: %w", k.ageGroup, k.kind, err)
		}
		bands = append(bands, models.GroupBand{
			AgeGroup:  k.ageGroup,
			Type:      k.kind,
			Quantiles: q,
		})
	}
	return bands, nil
}

// Reference computes point estimates straight from the raw panel's observed
// utilities: the same per-respondent QALY computation and group means, no
// resampling and no model in between.
func Reference(panel models.Panel, computer Computer) ([]models.ReferenceEstimate, error) {
	observed := make([]float64, len(panel))
	for i := range panel {
		observed[i] = panel[i].Utility
	}
	records, err := computer.Compute(panel, observed)
	if err != nil {
		return nil, fmt.Errorf("reference computation: %w", err)
	}

	sums := make(map[groupKey]float64)
	counts := make(map[groupKey]int)
	for _, rec := range records {
		k := groupKey{rec.AgeGroup, rec.Type}
		sums[k] += rec.Value
		counts[k]++
	}

	keys := make([]groupKey, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ageGroup != keys[j].ageGroup {
			return keys[i].ageGroup < keys[j].ageGroup
		}
		return keys[i].kind < keys[j].kind
	})

	estimates := make([]models.ReferenceEstimate, 0, len(keys))
	for _, k := range keys {
		estimates = append(estimates, models.ReferenceEstimate{
			AgeGroup:    k.ageGroup,
			Type:        k.kind,
			Mean:        sums[k] / float64(counts[k]),
			Respondents: counts[k],
		})
	}
	return estimates, nil
}

func sortDraws(draws []models.GroupDraw) {
	sort.Slice(draws, func(i, j int) bool {
		if draws[i].AgeGroup != draws[j].AgeGroup {
			return draws[i].AgeGroup < draws[j].AgeGroup
		}
		return draws[i].Type < draws[j].Type
	})
}
