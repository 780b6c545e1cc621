package fit

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mtvedt/qalyboot/internal/models"
)

// trueCoefs generates utilities for the test panels. Every coefficient is
// exactly recoverable from the balanced design below.
var trueCoefs = map[string]float64{
	"(Intercept)":           0.90,
	"survey=2":              -0.08,
	"survey=3":              -0.03,
	"sex=male":              0.02,
	"agegroup=50+":          -0.05,
	"sex=male:agegroup=50+": -0.04,
}

// trendPanel builds a balanced two-by-two demographic design with two
// respondents per cell and surveys 1..3. With perturbed set, each cell's
// respondent pair carries opposite cluster offsets (±0.04) and opposite
// within-respondent patterns (±0.01 on surveys 1 and 2), so the noise is
// orthogonal to every design column and the true coefficients remain
// exactly recoverable while both variance components stay positive.
func trendPanel(perturbed bool) models.Panel {
	var panel models.Panel
	n := 0
	for _, sex := range []string{"female", "male"} {
		for _, age := range []string{"18-49", "50+"} {
			for pair := 0; pair < 2; pair++ {
				n++
				id := fmt.Sprintf("r%d", n)
				offset := 0.04
				if pair == 1 {
					offset = -0.04
				}
				for survey := 1; survey <= 3; survey++ {
					u := trueCoefs["(Intercept)"]
					if survey == 2 {
						u += trueCoefs["survey=2"]
					}
					if survey == 3 {
						u += trueCoefs["survey=3"]
					}
					if sex == "male" {
						u += trueCoefs["sex=male"]
					}
					if age == "50+" {
						u += trueCoefs["agegroup=50+"]
					}
					if sex == "male" && age == "50+" {
						u += trueCoefs["sex=male:agegroup=50+"]
					}
					if perturbed {
						u += offset
						switch survey {
						case 1:
							u += offset / 4
						case 2:
							u -= offset / 4
						}
					}
					panel = append(panel, models.UtilityRecord{
						RespondentID: id,
						SurveyID:     survey,
						AgeGroup:     age,
						Sex:          sex,
						Utility:      u,
						Acute:        survey == 2,
					})
				}
			}
		}
	}
	return panel
}

func TestSchemaColumnOrder(t *testing.T) {
	f, err := ParseFormula(DefaultFormula)
	if err != nil {
		t.Fatalf("ParseFormula failed: %v", err)
	}
	schema, err := NewSchema(f, trendPanel(false), 1)
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}

	want := []string{
		"(Intercept)",
		"survey=2",
		"survey=3",
		"sex=male",
		"agegroup=50+",
		"sex=male:agegroup=50+",
	}
	got := schema.Columns()
	if len(got) != len(want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSchemaRejectsUnknownNames(t *testing.T) {
	panel := trendPanel(false)

	tests := []struct {
		name     string
		formula  string
		baseline int
	}{
		{"unknown response", "score ~ survey", 1},
		{"unknown variable", "utility ~ site", 1},
		{"unknown interaction variable", "utility ~ survey + sex:site", 1},
		{"unknown grouping variable", "utility ~ survey + (1 | ward)", 1},
		{"unknown random slope", "utility ~ survey + (1 + site | cluster)", 1},
		{"baseline survey not observed", "utility ~ survey", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFormula(tt.formula)
			if err != nil {
				t.Fatalf("ParseFormula failed: %v", err)
			}
			if _, err := NewSchema(f, panel, tt.baseline); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestEncodeDummyCoding(t *testing.T) {
	f, err := ParseFormula(DefaultFormula)
	if err != nil {
		t.Fatalf("ParseFormula failed: %v", err)
	}
	schema, err := NewSchema(f, trendPanel(false), 1)
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}

	panel := models.Panel{
		// All reference levels: intercept only.
		{RespondentID: "a", SurveyID: 1, AgeGroup: "18-49", Sex: "female", Utility: 0.9},
		// All non-reference levels: every dummy on.
		{RespondentID: "b", SurveyID: 3, AgeGroup: "50+", Sex: "male", Utility: 0.8},
	}
	X, y, err := schema.Encode(panel)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	wantRows := [][]float64{
		{1, 0, 0, 0, 0, 0},
		{1, 0, 1, 1, 1, 1},
	}
	for i, want := range wantRows {
		for j, w := range want {
			if got := X.At(i, j); got != w {
				t.Errorf("X[%d,%d] = %v, want %v", i, j, got, w)
			}
		}
	}
	if y.AtVec(0) != 0.9 || y.AtVec(1) != 0.8 {
		t.Errorf("response vector = [%v %v], want [0.9 0.8]", y.AtVec(0), y.AtVec(1))
	}
}

func checkCoefficients(t *testing.T, res Result) {
	t.Helper()
	if !res.Converged {
		t.Fatalf("fit did not converge: %v", res.Diagnostics)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}

	coefs := res.Model.Coefficients()
	if len(coefs) != len(trueCoefs) {
		t.Fatalf("got %d coefficients, want %d: %v", len(coefs), len(trueCoefs), coefs)
	}
	for name, want := range trueCoefs {
		got, ok := coefs[name]
		if !ok {
			t.Errorf("missing coefficient %q", name)
			continue
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("coefficient %q = %v, want %v", name, got, want)
		}
	}
}

func TestOLSRecoversExactCoefficients(t *testing.T) {
	panel := trendPanel(false)
	fitter, err := New("ols", DefaultFormula, panel, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	checkCoefficients(t, fitter.Fit(panel))
}

func TestGLSRecoversCoefficientsUnderClusterNoise(t *testing.T) {
	panel := trendPanel(true)
	for _, adapter := range []string{"ols", "gls"} {
		t.Run(adapter, func(t *testing.T) {
			fitter, err := New(adapter, DefaultFormula, panel, 1)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			checkCoefficients(t, fitter.Fit(panel))
		})
	}
}

func TestVarianceComponents(t *testing.T) {
	// Intercept-only design with beta = 0, so residuals equal y.
	// Cluster means are +1 and -1:
	//   within  = (2-1)^2+(0-1)^2 + (-2+1)^2+(0+1)^2 = 4, df 2 -> sigmaE2 = 2
	//   between = 2*1 + 2*1 = 4, B = 4
	//   nTilde  = (4 - 8/4) / 1 = 2 -> sigmaU2 = (4-2)/2 = 1
	X := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	y := mat.NewVecDense(4, []float64{2, 0, -2, 0})
	groups := map[string][]int{"g1": {0, 1}, "g2": {2, 3}}

	sigmaE2, sigmaU2 := varianceComponents(X, y, []float64{0}, groups)
	if math.Abs(sigmaE2-2) > 1e-12 {
		t.Errorf("sigmaE2 = %v, want 2", sigmaE2)
	}
	if math.Abs(sigmaU2-1) > 1e-12 {
		t.Errorf("sigmaU2 = %v, want 1", sigmaU2)
	}
}

func TestFitFlagsLostLevel(t *testing.T) {
	full := trendPanel(false)
	fitter, err := New("ols", DefaultFormula, full, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// A draw that misses every male respondent zeroes the sex=male and
	// interaction columns.
	var femaleOnly models.Panel
	for _, rec := range full {
		if rec.Sex == "female" {
			femaleOnly = append(femaleOnly, rec)
		}
	}

	res := fitter.Fit(femaleOnly)
	if !res.Converged {
		t.Fatalf("rank-deficient fit should still converge, got %v", res.Diagnostics)
	}
	if len(res.Diagnostics) == 0 {
		t.Fatal("rank-deficient fit should carry diagnostics")
	}
	if res.Model == nil {
		t.Fatal("converged fit should carry a model")
	}
}

func TestFitRejectsUnseenLevel(t *testing.T) {
	full := trendPanel(false)
	fitter, err := New("gls", DefaultFormula, full, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	stranger := models.Panel{
		{RespondentID: "x", SurveyID: 9, AgeGroup: "18-49", Sex: "female", Utility: 0.7},
	}
	res := fitter.Fit(stranger)
	if res.Converged {
		t.Fatal("unseen factor level should fail the fit")
	}
	if len(res.Diagnostics) == 0 || !strings.Contains(res.Diagnostics[0], "level") {
		t.Errorf("diagnostics should name the unseen level, got %v", res.Diagnostics)
	}
}

func TestPredictMatchesObservedOnNoiselessPanel(t *testing.T) {
	panel := trendPanel(false)
	fitter, err := New("ols", DefaultFormula, panel, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res := fitter.Fit(panel)
	if !res.Converged {
		t.Fatalf("fit failed: %v", res.Diagnostics)
	}

	preds, err := res.Model.Predict(panel)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(preds) != len(panel) {
		t.Fatalf("got %d predictions for %d rows", len(preds), len(panel))
	}
	for i, rec := range panel {
		if math.Abs(preds[i]-rec.Utility) > 1e-9 {
			t.Errorf("row %d: predicted %v, observed %v", i, preds[i], rec.Utility)
		}
	}
}

func TestNewRejectsBadArguments(t *testing.T) {
	panel := trendPanel(false)

	if _, err := New("lmm", DefaultFormula, panel, 1); err == nil {
		t.Error("unknown adapter name should be rejected")
	}
	if _, err := New("ols", "utility survey", panel, 1); err == nil {
		t.Error("malformed formula should be rejected")
	}
	if _, err := New("ols", DefaultFormula, models.Panel{}, 1); err == nil {
		t.Error("empty reference panel should be rejected")
	}
}

func TestFittedModelHandlesAndCopies(t *testing.T) {
	panel := trendPanel(false)
	fitter, err := New("ols", DefaultFormula, panel, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first := fitter.Fit(panel)
	second := fitter.Fit(panel)
	if first.Model.HandleID() == "" {
		t.Error("handle should be non-empty")
	}
	if first.Model.HandleID() == second.Model.HandleID() {
		t.Error("each fit should mint a distinct handle")
	}

	coefs := first.Model.Coefficients()
	coefs["survey=2"] = 99
	if first.Model.Coefficients()["survey=2"] == 99 {
		t.Error("Coefficients should return a copy")
	}
}
