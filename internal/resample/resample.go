// Package resample implements respondent-level cluster bootstrap draws.
//
// A draw picks K respondents uniformly with replacement from the M distinct
// respondents of a source panel and assigns each pick a fresh synthetic
// cluster id "1".."K". A respondent drawn twice yields two clusters that are
// treated as independent downstream. All longitudinal records of the drawn
// respondent are copied onto the synthetic id, so within-respondent
// correlation structure survives the resample intact.
//
// Respondent ids are indexed in sorted order, which fixes the mapping from
// RNG output to respondents. Two samplers built from the same panel produce
// identical draws for identical RNG streams.
package resample

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/mtvedt/qalyboot/internal/models"
)

// Sampler draws bootstrap panels from a fixed source panel.
type Sampler struct {
	ids     []string                          // distinct respondent ids, sorted
	records map[string][]models.UtilityRecord // records per respondent, survey-ordered
}

// NewSampler validates the source panel and builds the draw index.
// The panel is read once at construction and never mutated.
func NewSampler(panel models.Panel) (*Sampler, error) {
	if err := panel.Validate(); err != nil {
		return nil, fmt.Errorf("source panel: %w", err)
	}
	return &Sampler{
		ids:     panel.RespondentIDs(),
		records: panel.ByRespondent(),
	}, nil
}

// Respondents returns M, the number of distinct respondents available.
func (s *Sampler) Respondents() int {
	return len(s.ids)
}

// Draw produces one bootstrap panel of k synthetic clusters using the
// supplied RNG. Cluster ids are "1".."k" in draw order. The returned panel
// shares no memory with the source.
func (s *Sampler) Draw(k int, rng *rand.Rand) (models.Panel, error) {
	if k <= 0 {
		return nil, fmt.Errorf("draw size must be positive, got %d", k)
	}
	if rng == nil {
		return nil, fmt.Errorf("draw requires an RNG")
	}

	out := make(models.Panel, 0, k*s.avgRecords())
	for i := 0; i < k; i++ {
		id := s.ids[rng.Intn(len(s.ids))]
		cluster := strconv.Itoa(i + 1)
		for _, rec := range s.records[id] {
			rec.RespondentID = cluster
			out = append(out, rec)
		}
	}
	return out, nil
}

// avgRecords estimates records per respondent for allocation sizing.
func (s *Sampler) avgRecords() int {
	total := 0
	for _, recs := range s.records {
		total += len(recs)
	}
	n := total / len(s.ids)
	if n < 1 {
		n = 1
	}
	return n
}
