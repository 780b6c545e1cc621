package fit

import (
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mtvedt/qalyboot/internal/models"
)

// Panel variables available to formulas. survey, sex and agegroup are
// treated as factors with dummy coding; acute is numeric 0/1; cluster is the
// grouping variable of the random term.
const (
	varUtility  = "utility"
	varSurvey   = "survey"
	varSex      = "sex"
	varAgeGroup = "agegroup"
	varAcute    = "acute"
	varCluster  = "cluster"
)

// InterceptColumn is the name of the constant design column.
const InterceptColumn = "(Intercept)"

// Schema is a frozen design-matrix layout. Factor levels and their
// dummy-coding references come from the reference panel at construction, so
// panels missing a level still encode to the full column set (the lost
// level's column is all zero and the fit reports the resulting rank
// deficiency).
type Schema struct {
	formula Formula
	columns []string
	levels  map[string][]string // factor -> non-reference levels, column order
	refs    map[string]string   // factor -> reference level
}

// NewSchema freezes the design layout for a formula against a reference
// panel. baselineSurvey names the survey factor's reference level and must
// be observed in the panel; the other factors use their first level in
// sorted order.
func NewSchema(f Formula, reference models.Panel, baselineSurvey int) (*Schema, error) {
	if f.Response != varUtility {
		return nil, fmt.Errorf("unknown response %q (panel exposes %q)", f.Response, varUtility)
	}
	if f.Random != nil && f.Random.Group != varCluster {
		return nil, fmt.Errorf("unknown grouping variable %q (panel exposes %q)", f.Random.Group, varCluster)
	}
	if err := reference.Validate(); err != nil {
		return nil, fmt.Errorf("reference panel: %w", err)
	}

	s := &Schema{
		formula: f,
		levels:  make(map[string][]string),
		refs:    make(map[string]string),
	}
	if err := s.freezeLevels(reference, baselineSurvey); err != nil {
		return nil, err
	}

	s.columns = []string{InterceptColumn}
	for _, term := range f.Fixed {
		for _, v := range term.Variables {
			if !knownVariable(v) {
				return nil, fmt.Errorf("unknown variable %q in term %q", v, term)
			}
		}
		s.columns = append(s.columns, s.expandTerm(term)...)
	}
	if f.Random != nil {
		for _, v := range f.Random.Slopes {
			if !knownVariable(v) {
				return nil, fmt.Errorf("unknown random slope %q", v)
			}
		}
	}
	return s, nil
}

func knownVariable(v string) bool {
	switch v {
	case varSurvey, varSex, varAgeGroup, varAcute:
		return true
	}
	return false
}

// freezeLevels collects the distinct factor levels of the reference panel.
func (s *Schema) freezeLevels(reference models.Panel, baselineSurvey int) error {
	surveys := make(map[string]bool)
	sexes := make(map[string]bool)
	ages := make(map[string]bool)
	for _, rec := range reference {
		surveys[strconv.Itoa(rec.SurveyID)] = true
		sexes[rec.Sex] = true
		ages[rec.AgeGroup] = true
	}

	baseline := strconv.Itoa(baselineSurvey)
	if !surveys[baseline] {
		return fmt.Errorf("baseline survey %d not observed in the reference panel", baselineSurvey)
	}

	s.refs[varSurvey] = baseline
	s.levels[varSurvey] = nonReference(surveys, baseline, surveyLess)

	for v, set := range map[string]map[string]bool{varSex: sexes, varAgeGroup: ages} {
		sorted := sortedKeys(set)
		s.refs[v] = sorted[0]
		s.levels[v] = sorted[1:]
	}
	return nil
}

// nonReference orders a factor's levels and drops the reference.
func nonReference(set map[string]bool, ref string, less func(a, b string) bool) []string {
	out := make([]string, 0, len(set)-1)
	for lv := range set {
		if lv != ref {
			out = append(out, lv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// surveyLess orders survey levels numerically.
func surveyLess(a, b string) bool {
	ai, _ := strconv.Atoi(a)
	bi, _ := strconv.Atoi(b)
	return ai < bi
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// expandTerm produces the design column names of one term: the cartesian
// product of each variable's dummy columns, ":"-joined for interactions.
func (s *Schema) expandTerm(t Term) []string {
	names := []string{""}
	for _, v := range t.Variables {
		var parts []string
		if v == varAcute {
			parts = []string{varAcute}
		} else {
			for _, lv := range s.levels[v] {
				parts = append(parts, v+"="+lv)
			}
		}
		var next []string
		for _, prefix := range names {
			for _, p := range parts {
				if prefix == "" {
					next = append(next, p)
				} else {
					next = append(next, prefix+":"+p)
				}
			}
		}
		names = next
	}
	return names
}

// Columns returns the design column names, intercept first.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Formula returns the parsed specification the schema was frozen from.
func (s *Schema) Formula() Formula {
	return s.formula
}

// Encode builds the design matrix and response vector for a panel laid out
// per the frozen schema. A factor level unseen at construction is an error;
// a frozen level absent from the panel encodes as an all-zero column.
func (s *Schema) Encode(panel models.Panel) (*mat.Dense, *mat.VecDense, error) {
	if len(panel) == 0 {
		return nil, nil, fmt.Errorf("cannot encode an empty panel")
	}

	rows := len(panel)
	X := mat.NewDense(rows, len(s.columns), nil)
	y := mat.NewVecDense(rows, nil)

	for i, rec := range panel {
		X.Set(i, 0, 1)
		col := 1
		for _, term := range s.formula.Fixed {
			vals, err := s.termValues(term, rec)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: %w", i, err)
			}
			for _, v := range vals {
				X.Set(i, col, v)
				col++
			}
		}
		y.SetVec(i, rec.Utility)
	}
	return X, y, nil
}

// termValues encodes one record's contribution to a term's columns, in the
// same order expandTerm names them.
func (s *Schema) termValues(t Term, rec models.UtilityRecord) ([]float64, error) {
	vals := []float64{1}
	for _, v := range t.Variables {
		var parts []float64
		if v == varAcute {
			acute := 0.0
			if rec.Acute {
				acute = 1
			}
			parts = []float64{acute}
		} else {
			observed, err := s.factorValue(v, rec)
			if err != nil {
				return nil, err
			}
			parts = make([]float64, len(s.levels[v]))
			for j, lv := range s.levels[v] {
				if lv == observed {
					parts[j] = 1
				}
			}
		}
		var next []float64
		for _, base := range vals {
			for _, p := range parts {
				next = append(next, base*p)
			}
		}
		vals = next
	}
	return vals, nil
}

// factorValue reads a record's level for a factor and checks it against the
// frozen level set. The reference level is legal and encodes as all zeros.
func (s *Schema) factorValue(v string, rec models.UtilityRecord) (string, error) {
	var observed string
	switch v {
	case varSurvey:
		observed = strconv.Itoa(rec.SurveyID)
	case varSex:
		observed = rec.Sex
	case varAgeGroup:
		observed = rec.AgeGroup
	default:
		return "", fmt.Errorf("variable %q is not a factor", v)
	}

	if observed == s.refs[v] {
		return observed, nil
	}
	for _, lv := range s.levels[v] {
		if lv == observed {
			return observed, nil
		}
	}
	return "", fmt.Errorf("%s level %q not present when the schema was frozen", v, observed)
}
