// Package bootstrap orchestrates the cluster-bootstrap pipeline: draw a
// panel, fit the model, predict, reduce, N times in parallel, then collapse
// the retained replicates into coefficient and QALY uncertainty bands.
//
// Reproducibility contract: per-replicate RNG seeds are pre-drawn from a
// master RNG before any worker starts, each worker writes only its own index
// slot, and all reductions are order-independent. The same (seed, N) on the
// same panel yields bit-identical output for any worker count.
package bootstrap

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtvedt/qalyboot/internal/aggregate"
	"github.com/mtvedt/qalyboot/internal/fit"
	"github.com/mtvedt/qalyboot/internal/logger"
	"github.com/mtvedt/qalyboot/internal/models"
	"github.com/mtvedt/qalyboot/internal/qaly"
	"github.com/mtvedt/qalyboot/internal/resample"
)

// Params control one pipeline run.
type Params struct {
	Replicates  int   // number of bootstrap replicates (N)
	DrawSize    int   // clusters per draw (K); 0 means one per source respondent
	Seed        int64 // master RNG seed
	MinRetained int   // fewest retained replicates that still produce output; 30 or more is sensible
	Workers     int   // worker goroutines; 0 means runtime.NumCPU()
}

func (p Params) validate() error {
	if p.Replicates < 1 {
		return fmt.Errorf("replicates must be positive, got %d", p.Replicates)
	}
	if p.MinRetained < 1 {
		return fmt.Errorf("min retained must be positive, got %d", p.MinRetained)
	}
	if p.MinRetained > p.Replicates {
		return fmt.Errorf("min retained %d exceeds %d replicates and can never be met", p.MinRetained, p.Replicates)
	}
	if p.DrawSize < 0 {
		return fmt.Errorf("draw size must not be negative, got %d", p.DrawSize)
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", p.Workers)
	}
	return nil
}

// Engine runs the pipeline against fixed collaborators.
type Engine struct {
	params   Params
	fitter   fit.Fitter
	computer qaly.Computer
}

// New validates the parameters and binds the fit adapter and QALY computer.
func New(params Params, fitter fit.Fitter, computer qaly.Computer) (*Engine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if fitter == nil {
		return nil, fmt.Errorf("engine requires a fit adapter")
	}
	if computer == nil {
		return nil, fmt.Errorf("engine requires a QALY computer")
	}
	return &Engine{params: params, fitter: fitter, computer: computer}, nil
}

// Result is the reduced output of one run. Samples and Draws carry the
// retained per-replicate ensemble the aggregates were computed from, for
// archival and post-hoc inspection.
type Result struct {
	Replicates   int
	DrawSize     int
	Retained     int
	Dropped      int
	Coefficients []models.CoefficientSummary
	Bands        []models.GroupBand
	Reference    []models.ReferenceEstimate
	Samples      []models.CoefficientSample
	Draws        []models.GroupDraw
	Elapsed      time.Duration
}

// Run executes the full pipeline on the source panel. Replicate-local
// failures are absorbed; the run fails only on structural problems, on
// external cancellation, or when fewer than MinRetained replicates survive
// the filter, in which case the error is an *InsufficientReplicatesError
// and no partial aggregate is returned.
func (e *Engine) Run(ctx context.Context, panel models.Panel) (*Result, error) {
	start := time.Now()

	sampler, err := resample.NewSampler(panel)
	if err != nil {
		return nil, err
	}
	k := e.params.DrawSize
	if k == 0 {
		k = sampler.Respondents()
	}

	reference, err := qaly.Reference(panel, e.computer)
	if err != nil {
		return nil, err
	}

	n := e.params.Replicates
	masterRng := rand.New(rand.NewSource(e.params.Seed))
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = masterRng.Int63()
	}

	workers := e.params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	logger.Info("bootstrap: %d replicates of %d clusters from %d respondents, %d workers, adapter=%s",
		n, k, sampler.Respondents(), workers, e.fitter.Name())

	replicates := make([]*models.BootstrapReplicate, n)
	groupDraws := make([][]models.GroupDraw, n)

	// Once more than budget replicates drop, retention cannot reach the
	// minimum, so in-flight work is cancelled. Completed replicates stay
	// valid either way.
	budget := int64(n - e.params.MinRetained)
	var droppedCount int64

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				rep, draws := e.replicate(sampler, k, idx, seeds[idx])
				replicates[idx] = rep
				groupDraws[idx] = draws
				if !rep.Retained() {
					logger.Debug("bootstrap: replicate %d dropped: %v", rep.Index, rep.Diagnostics)
					if atomic.AddInt64(&droppedCount, 1) > budget {
						cancel()
					}
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	retained, dropped := Filter(replicates)
	logger.Info("bootstrap: %d retained, %d dropped after %s", len(retained), dropped, time.Since(start).Round(time.Millisecond))
	if len(retained) < e.params.MinRetained {
		return nil, &InsufficientReplicatesError{Retained: len(retained), Required: e.params.MinRetained}
	}

	samples := aggregate.CollectSamples(retained)
	summaries, err := aggregate.Coefficients(samples, len(retained))
	if err != nil {
		return nil, fmt.Errorf("aggregate coefficients: %w", err)
	}

	var flat []models.GroupDraw
	for _, rep := range retained {
		flat = append(flat, groupDraws[rep.Index-1]...)
	}
	bands, err := qaly.Bands(flat)
	if err != nil {
		return nil, fmt.Errorf("aggregate group bands: %w", err)
	}

	return &Result{
		Replicates:   n,
		DrawSize:     k,
		Retained:     len(retained),
		Dropped:      dropped,
		Coefficients: summaries,
		Bands:        bands,
		Reference:    reference,
		Samples:      samples,
		Draws:        flat,
		Elapsed:      time.Since(start),
	}, nil
}

// replicate runs one draw, fit, predict, reduce cycle. Failures stay inside
// the replicate as diagnostics; the filter drops it afterwards.
func (e *Engine) replicate(sampler *resample.Sampler, k, idx int, seed int64) (*models.BootstrapReplicate, []models.GroupDraw) {
	rep := &models.BootstrapReplicate{Index: idx + 1}

	draw, err := sampler.Draw(k, rand.New(rand.NewSource(seed)))
	if err != nil {
		rep.Diagnostics = []string{err.Error()}
		return rep, nil
	}
	rep.Panel = draw

	res := e.fitter.Fit(draw)
	rep.Diagnostics = res.Diagnostics
	if !res.Converged {
		if len(rep.Diagnostics) == 0 {
			rep.Diagnostics = []string{"fit did not converge"}
		}
		return rep, nil
	}
	rep.Fitted = res.Model
	if !rep.Retained() {
		return rep, nil
	}

	preds, err := rep.Fitted.Predict(draw)
	if err != nil {
		rep.Diagnostics = append(rep.Diagnostics, fmt.Sprintf("predict: %v", err))
		return rep, nil
	}
	records, err := e.computer.Compute(draw, preds)
	if err != nil {
		rep.Diagnostics = append(rep.Diagnostics, fmt.Sprintf("qaly: %v", err))
		return rep, nil
	}
	return rep, qaly.GroupMeans(records, rep.Index)
}
