package models

import (
	"errors"
	"fmt"
	"sort"
)

// Panel is an unordered collection of utility records, one row per
// (respondent, survey) pair. It is the read-only input of a pipeline run;
// the resampler produces fresh panels and never mutates its source.
type Panel []UtilityRecord

// Validate checks the structural invariants of the panel: it is non-empty,
// every record is individually valid, no (respondent, survey) pair repeats,
// and each respondent carries a single consistent age group and sex across
// all of its records.
func (p Panel) Validate() error {
	if len(p) == 0 {
		return errors.New("panel must not be empty")
	}

	type demog struct {
		ageGroup string
		sex      string
	}

	seen := make(map[string]map[int]bool, len(p))
	demogs := make(map[string]demog, len(p))

	for i := range p {
		r := &p[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}

		surveys := seen[r.RespondentID]
		if surveys == nil {
			surveys = make(map[int]bool)
			seen[r.RespondentID] = surveys
		}
		if surveys[r.SurveyID] {
			return fmt.Errorf("duplicate record for respondent %q survey %d", r.RespondentID, r.SurveyID)
		}
		surveys[r.SurveyID] = true

		d, ok := demogs[r.RespondentID]
		if !ok {
			demogs[r.RespondentID] = demog{ageGroup: r.AgeGroup, sex: r.Sex}
		} else if d.ageGroup != r.AgeGroup || d.sex != r.Sex {
			return fmt.Errorf("respondent %q has inconsistent demographics across records", r.RespondentID)
		}
	}
	return nil
}

// RespondentIDs returns the distinct respondent identifiers in sorted order.
// The sorted order fixes the mapping from random draws to respondents, which
// the resampler relies on for reproducibility.
func (p Panel) RespondentIDs() []string {
	set := make(map[string]bool, len(p))
	for i := range p {
		set[p[i].RespondentID] = true
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ByRespondent groups the panel's records by respondent identifier. Records
// within each group are sorted by survey ID.
func (p Panel) ByRespondent() map[string][]UtilityRecord {
	groups := make(map[string][]UtilityRecord)
	for i := range p {
		groups[p[i].RespondentID] = append(groups[p[i].RespondentID], p[i])
	}
	for id := range groups {
		recs := groups[id]
		sort.Slice(recs, func(a, b int) bool { return recs[a].SurveyID < recs[b].SurveyID })
	}
	return groups
}

// SurveyIDs returns the distinct survey time-point keys in ascending order.
func (p Panel) SurveyIDs() []int {
	set := make(map[int]bool)
	for i := range p {
		set[p[i].SurveyID] = true
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
