// Package qaly turns utility trajectories into quality-adjusted life-year
// summaries.
//
// Per respondent, the computer integrates the utility curve over the
// observed survey span by the trapezoid rule and reports three integrals:
// the raw QALY, the loss against full health (utility 1), and the loss
// against the respondent's own value at a designated baseline time point.
// Group reducers then average the per-respondent values within demographic
// groups and, across bootstrap replicates, reduce the group means into
// quantile uncertainty bands.
package qaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/mtvedt/qalyboot/internal/models"
)

// Computer maps one panel plus a parallel utility vector to per-respondent
// QALY records. The engine calls it once per retained replicate with
// predicted utilities and once on the raw panel with observed ones.
type Computer interface {
	Compute(panel models.Panel, utilities []float64) ([]models.QALYRecord, error)
}

// Options configure the trapezoid computer.
type Options struct {
	// BaselineSurvey is the time point the vs-baseline loss is measured
	// against. Respondents without it contribute no vs-baseline record.
	BaselineSurvey int
	// Times maps survey ids to real time offsets. Survey ids absent from
	// the map fall back to their numeric value.
	Times map[int]float64
}

// DefaultComputer integrates trajectories by the trapezoid rule.
type DefaultComputer struct {
	opts Options
}

// NewComputer returns a trapezoid computer with the given options.
func NewComputer(opts Options) *DefaultComputer {
	return &DefaultComputer{opts: opts}
}

// Compute produces up to three records per respondent: raw, vs-full-health
// and vs-baseline. utilities[i] supplies the utility for panel row i, which
// lets callers swap predicted values in for observed ones. Respondents with
// fewer than two time points span no interval and contribute nothing.
func (c *DefaultComputer) Compute(panel models.Panel, utilities []float64) ([]models.QALYRecord, error) {
	if len(utilities) != len(panel) {
		return nil, fmt.Errorf("%d utilities for %d panel rows", len(utilities), len(panel))
	}
	for i, u := range utilities {
		if math.IsNaN(u) || math.IsInf(u, 0) {
			return nil, fmt.Errorf("utility for row %d is not finite", i)
		}
	}

	// Row indices per respondent, survey-sorted, so the override vector can
	// be addressed per trajectory point.
	rows := make(map[string][]int)
	for i := range panel {
		rows[panel[i].RespondentID] = append(rows[panel[i].RespondentID], i)
	}

	var out []models.QALYRecord
	for _, id := range sortedIDs(rows) {
		idx := rows[id]
		sort.Slice(idx, func(a, b int) bool {
			return panel[idx[a]].SurveyID < panel[idx[b]].SurveyID
		})
		records, err := c.respondent(panel, idx, utilities)
		if err != nil {
			return nil, fmt.Errorf("respondent %s: %w", id, err)
		}
		out = append(out, records...)
	}
	return out, nil
}

// respondent integrates one trajectory. idx holds the respondent's panel
// rows in survey order.
func (c *DefaultComputer) respondent(panel models.Panel, idx []int, utilities []float64) ([]models.QALYRecord, error) {
	if len(idx) < 2 {
		return nil, nil
	}

	times := make([]float64, len(idx))
	for i, r := range idx {
		times[i] = c.timeOf(panel[r].SurveyID)
		if i > 0 && times[i] <= times[i-1] {
			return nil, fmt.Errorf("survey times not strictly increasing (%v after %v)", times[i], times[i-1])
		}
	}

	raw := 0.0
	for i := 1; i < len(idx); i++ {
		dt := times[i] - times[i-1]
		raw += dt * (utilities[idx[i-1]] + utilities[idx[i]]) / 2
	}
	span := times[len(idx)-1] - times[0]

	first := panel[idx[0]]
	record := func(kind string, value float64) models.QALYRecord {
		return models.QALYRecord{
			RespondentID: first.RespondentID,
			AgeGroup:     first.AgeGroup,
			Sex:          first.Sex,
			Type:         kind,
			Value:        value,
		}
	}

	out := []models.QALYRecord{
		record(models.QALYRaw, raw),
		record(models.QALYVsFullHealth, span-raw),
	}
	if base, ok := c.baselineUtility(panel, idx, utilities); ok {
		out = append(out, record(models.QALYVsBaseline, base*span-raw))
	}
	return out, nil
}

// baselineUtility finds the respondent's utility at the baseline survey.
func (c *DefaultComputer) baselineUtility(panel models.Panel, idx []int, utilities []float64) (float64, bool) {
	for _, r := range idx {
		if panel[r].SurveyID == c.opts.BaselineSurvey {
			return utilities[r], true
		}
	}
	return 0, false
}

func (c *DefaultComputer) timeOf(surveyID int) float64 {
	if t, ok := c.opts.Times[surveyID]; ok {
		return t
	}
	return float64(surveyID)
}

func sortedIDs(rows map[string][]int) []string {
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
