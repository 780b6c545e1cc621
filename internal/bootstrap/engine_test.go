package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/mtvedt/qalyboot/internal/fit"
	"github.com/mtvedt/qalyboot/internal/models"
	"github.com/mtvedt/qalyboot/internal/qaly"
)

// linearTrendPanel builds five respondents sharing one demographic cell,
// surveys 1..6, utility 0.95 - 0.03*(survey-1) plus a fixed per-respondent
// offset. The trend coefficients are exactly recoverable from any draw.
func linearTrendPanel() models.Panel {
	offsets := []float64{0.02, 0.01, 0, -0.01, -0.02}
	var panel models.Panel
	for i, offset := range offsets {
		id := fmt.Sprintf("r%d", i+1)
		for survey := 1; survey <= 6; survey++ {
			panel = append(panel, models.UtilityRecord{
				RespondentID: id,
				SurveyID:     survey,
				AgeGroup:     "30-39",
				Sex:          "female",
				Utility:      0.95 - 0.03*float64(survey-1) + offset,
				Acute:        survey == 2,
			})
		}
	}
	return panel
}

// mixedPanel carries two demographic cells for the scripted-fitter tests.
func mixedPanel() models.Panel {
	var panel models.Panel
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("m%d", i+1)
		sex := "female"
		if i%2 == 1 {
			sex = "male"
		}
		for survey := 1; survey <= 3; survey++ {
			panel = append(panel, models.UtilityRecord{
				RespondentID: id,
				SurveyID:     survey,
				AgeGroup:     "40-49",
				Sex:          sex,
				Utility:      0.9 - 0.05*float64(survey-1),
				Acute:        survey == 2,
			})
		}
	}
	return panel
}

type stubModel struct{}

func (stubModel) HandleID() string { return "stub" }
func (stubModel) Coefficients() map[string]float64 {
	return map[string]float64{"(Intercept)": 0.8, "survey=2": -0.05}
}
func (stubModel) Predict(panel models.Panel) ([]float64, error) {
	preds := make([]float64, len(panel))
	for i := range preds {
		preds[i] = 0.8
	}
	return preds, nil
}

// scriptedFitter converges for the first succeedFirst calls and fails after
// that. Call order is only deterministic with a single worker.
type scriptedFitter struct {
	mu           sync.Mutex
	calls        int
	succeedFirst int
}

func (s *scriptedFitter) Name() string { return "scripted" }

func (s *scriptedFitter) Fit(models.Panel) fit.Result {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n <= s.succeedFirst {
		return fit.Result{Converged: true, Model: stubModel{}}
	}
	return fit.Result{Diagnostics: []string{"scripted failure"}}
}

func (s *scriptedFitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestEngine(t *testing.T, params Params, panel models.Panel) *Engine {
	t.Helper()
	fitter, err := fit.New("ols", fit.DefaultFormula, panel, 1)
	if err != nil {
		t.Fatalf("fit.New failed: %v", err)
	}
	engine, err := New(params, fitter, qaly.NewComputer(qaly.Options{BaselineSurvey: 1}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return engine
}

// stripElapsed zeroes the wall-clock field so results can be compared.
func stripElapsed(r *Result) Result {
	out := *r
	out.Elapsed = 0
	return out
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	panel := linearTrendPanel()

	var results []Result
	for _, workers := range []int{1, 3, 8} {
		engine := newTestEngine(t, Params{
			Replicates:  25,
			Seed:        99,
			MinRetained: 10,
			Workers:     workers,
		}, panel)

		res, err := engine.Run(context.Background(), panel)
		if err != nil {
			t.Fatalf("Run with %d workers failed: %v", workers, err)
		}
		results = append(results, stripElapsed(res))
	}

	for i := 1; i < len(results); i++ {
		if !reflect.DeepEqual(results[0], results[i]) {
			t.Fatalf("results differ between worker counts:\n%+v\n%+v", results[0], results[i])
		}
	}
}

func TestRunRecoversLinearTrend(t *testing.T) {
	panel := linearTrendPanel()
	engine := newTestEngine(t, Params{
		Replicates:  50,
		Seed:        1,
		MinRetained: 30,
	}, panel)

	res, err := engine.Run(context.Background(), panel)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Replicates != 50 || res.Retained != 50 || res.Dropped != 0 {
		t.Fatalf("counts = %d/%d/%d, want 50 replicates all retained",
			res.Replicates, res.Retained, res.Dropped)
	}
	if res.DrawSize != 5 {
		t.Errorf("draw size = %d, want 5 (one cluster per respondent)", res.DrawSize)
	}

	// The only estimable fixed effects are the five survey contrasts; the
	// per-respondent offsets shift the intercept of each draw, never the
	// trend, so every replicate estimates survey=s at -0.03*(s-1) exactly.
	if len(res.Coefficients) != 5 {
		t.Fatalf("got %d coefficient summaries, want 5: %+v", len(res.Coefficients), res.Coefficients)
	}
	for i, summary := range res.Coefficients {
		survey := i + 2
		wantName := fmt.Sprintf("survey=%d", survey)
		if summary.Name != wantName {
			t.Errorf("summary %d name = %q, want %q", i, summary.Name, wantName)
			continue
		}
		truth := -0.03 * float64(survey-1)
		if math.Abs(summary.Quantiles.P50-truth) > 1e-9 {
			t.Errorf("%s median = %v, want %v", wantName, summary.Quantiles.P50, truth)
		}
		if summary.Quantiles.P025 > truth+1e-9 || truth-1e-9 > summary.Quantiles.P975 {
			t.Errorf("%s band [%v, %v] misses the true value %v",
				wantName, summary.Quantiles.P025, summary.Quantiles.P975, truth)
		}
		if !summary.Significant {
			t.Errorf("%s is strictly negative in every replicate, should be significant", wantName)
		}
	}

	if len(res.Bands) != 3 {
		t.Fatalf("got %d group bands, want 3 (one per QALY type)", len(res.Bands))
	}
	for _, band := range res.Bands {
		if band.AgeGroup != "30-39" {
			t.Errorf("band age group = %q, want 30-39", band.AgeGroup)
		}
		if !band.Quantiles.Monotonic() {
			t.Errorf("band %s quantiles not monotonic: %+v", band.Type, band.Quantiles)
		}
	}

	// Observed utilities are linear, so the trapezoid integrals are exact:
	// raw 4.375, loss vs full health 0.625, loss vs baseline 0.375, and the
	// respondent offsets cancel in the group mean.
	wantRef := map[string]float64{
		models.QALYRaw:          4.375,
		models.QALYVsFullHealth: 0.625,
		models.QALYVsBaseline:   0.375,
	}
	if len(res.Reference) != 3 {
		t.Fatalf("got %d reference estimates, want 3", len(res.Reference))
	}
	for _, ref := range res.Reference {
		if ref.Respondents != 5 {
			t.Errorf("reference %s counts %d respondents, want 5", ref.Type, ref.Respondents)
		}
		if math.Abs(ref.Mean-wantRef[ref.Type]) > 1e-9 {
			t.Errorf("reference %s mean = %v, want %v", ref.Type, ref.Mean, wantRef[ref.Type])
		}
	}
}

func TestRunRetainsExactlySuccesses(t *testing.T) {
	panel := mixedPanel()
	fitter := &scriptedFitter{succeedFirst: 14}
	engine, err := New(Params{
		Replicates:  20,
		Seed:        5,
		MinRetained: 5,
		Workers:     1,
	}, fitter, qaly.NewComputer(qaly.Options{BaselineSurvey: 1}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := engine.Run(context.Background(), panel)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Retained != 14 || res.Dropped != 6 {
		t.Fatalf("retained/dropped = %d/%d, want 14/6", res.Retained, res.Dropped)
	}
	if len(res.Coefficients) != 1 || res.Coefficients[0].Name != "survey=2" {
		t.Fatalf("coefficients = %+v, want the single non-intercept stub coefficient", res.Coefficients)
	}
	if !res.Coefficients[0].Significant {
		t.Error("a constant negative coefficient should be significant")
	}
}

func TestRunInsufficientReplicates(t *testing.T) {
	panel := mixedPanel()
	fitter := &scriptedFitter{succeedFirst: 10}
	engine, err := New(Params{
		Replicates:  50,
		Seed:        2,
		MinRetained: 30,
		Workers:     1,
	}, fitter, qaly.NewComputer(qaly.Options{BaselineSurvey: 1}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := engine.Run(context.Background(), panel)
	if res != nil {
		t.Fatal("no partial result should be returned")
	}

	var insufficient *InsufficientReplicatesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientReplicatesError", err)
	}
	if insufficient.Retained != 10 || insufficient.Required != 30 {
		t.Errorf("error carries %d/%d, want 10 retained of 30 required",
			insufficient.Retained, insufficient.Required)
	}
}

func TestRunCancelsEarlyOnFailureBudget(t *testing.T) {
	panel := mixedPanel()
	fitter := &scriptedFitter{} // every fit fails
	engine, err := New(Params{
		Replicates:  500,
		Seed:        3,
		MinRetained: 400,
		Workers:     4,
	}, fitter, qaly.NewComputer(qaly.Options{BaselineSurvey: 1}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = engine.Run(context.Background(), panel)
	var insufficient *InsufficientReplicatesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientReplicatesError", err)
	}

	// The failure budget is 100; after it is spent the engine cancels, so
	// nowhere near all 500 replicates should have been fitted.
	if calls := fitter.callCount(); calls > 200 {
		t.Errorf("%d fits ran after the budget was spent", calls)
	}
}

func TestRunExternalCancellation(t *testing.T) {
	panel := linearTrendPanel()
	engine := newTestEngine(t, Params{
		Replicates:  50,
		Seed:        1,
		MinRetained: 10,
	}, panel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := engine.Run(ctx, panel)
	if res != nil {
		t.Fatal("cancelled run should not return a result")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestRunRejectsEmptyPanel(t *testing.T) {
	engine := newTestEngine(t, Params{
		Replicates:  10,
		Seed:        1,
		MinRetained: 5,
	}, linearTrendPanel())

	if _, err := engine.Run(context.Background(), models.Panel{}); err == nil {
		t.Error("empty panel should be a structural error")
	}
}

func TestFilterCounts(t *testing.T) {
	clean := func(i int) *models.BootstrapReplicate {
		return &models.BootstrapReplicate{Index: i, Fitted: stubModel{}}
	}
	replicates := []*models.BootstrapReplicate{
		clean(1),
		{Index: 2, Fitted: stubModel{}, Diagnostics: []string{"rank deficient"}},
		clean(3),
		{Index: 4, Diagnostics: []string{"no convergence"}},
		clean(5),
		nil, // never ran
		clean(7),
		{Index: 8, Diagnostics: []string{"no convergence"}},
		clean(9),
		clean(10),
	}

	retained, dropped := Filter(replicates)
	if len(retained) != 6 || dropped != 3 {
		t.Fatalf("retained/dropped = %d/%d, want 6/3", len(retained), dropped)
	}
	for i := 1; i < len(retained); i++ {
		if retained[i-1].Index >= retained[i].Index {
			t.Fatal("retained replicates should stay in index order")
		}
	}
}

func TestNewValidatesParams(t *testing.T) {
	panel := mixedPanel()
	fitter, err := fit.New("ols", fit.DefaultFormula, panel, 1)
	if err != nil {
		t.Fatalf("fit.New failed: %v", err)
	}
	computer := qaly.NewComputer(qaly.Options{BaselineSurvey: 1})

	tests := []struct {
		name   string
		params Params
	}{
		{"zero replicates", Params{Replicates: 0, MinRetained: 1}},
		{"zero min retained", Params{Replicates: 10, MinRetained: 0}},
		{"min retained above replicates", Params{Replicates: 10, MinRetained: 11}},
		{"negative draw size", Params{Replicates: 10, MinRetained: 5, DrawSize: -1}},
		{"negative workers", Params{Replicates: 10, MinRetained: 5, Workers: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.params, fitter, computer); err == nil {
				t.Error("expected an error")
			}
		})
	}

	good := Params{Replicates: 10, MinRetained: 5}
	if _, err := New(good, nil, computer); err == nil {
		t.Error("nil fitter should be rejected")
	}
	if _, err := New(good, fitter, nil); err == nil {
		t.Error("nil computer should be rejected")
	}
}
