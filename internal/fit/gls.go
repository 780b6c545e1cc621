package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mtvedt/qalyboot/internal/models"
)

// GLS fits the fixed effects by feasible generalized least squares. The
// random intercept of the formula implies a compound-symmetry covariance
// within each cluster, V_g = sigma_e^2 I + sigma_u^2 J; both variance
// components are moment estimates from an initial least-squares pass.
// Random slopes named by the formula are absorbed into the residual term,
// so their variance widens sigma_e^2 rather than entering the weighting.
type GLS struct {
	schema *Schema
}

func (g *GLS) Name() string { return "gls" }

// Fit runs the two-stage estimate: least squares for residuals, moment
// estimation of the variance components, then the weighted solve. When the
// between-cluster variance estimate is zero the weighting is the identity
// and the estimate equals ordinary least squares.
func (g *GLS) Fit(panel models.Panel) Result {
	X, y, err := g.schema.Encode(panel)
	if err != nil {
		return Result{Diagnostics: []string{err.Error()}}
	}

	beta, diags := solveLeastSquares(X, y)
	if beta == nil {
		return Result{Diagnostics: diags}
	}
	if len(diags) > 0 {
		// A deficient design will not improve under reweighting; report
		// the first-stage estimate and let the filter drop it.
		model := newFittedModel(g.schema, beta)
		if !model.finite() {
			return Result{Diagnostics: append(diags, "least squares produced non-finite coefficients")}
		}
		return Result{Converged: true, Model: model, Diagnostics: diags}
	}

	groups := clusterRows(panel)
	sigmaE2, sigmaU2 := varianceComponents(X, y, beta, groups)
	if sigmaU2 > 0 && sigmaE2 > 0 {
		weighted, err := solveWeighted(X, y, groups, sigmaE2, sigmaU2)
		if err != nil {
			return Result{Diagnostics: []string{fmt.Sprintf("weighted solve failed: %v", err)}}
		}
		beta = weighted
	}

	model := newFittedModel(g.schema, beta)
	if !model.finite() {
		return Result{Diagnostics: []string{"generalized least squares produced non-finite coefficients"}}
	}
	return Result{Converged: true, Model: model}
}

// clusterRows indexes panel rows by cluster id, preserving row order.
func clusterRows(panel models.Panel) map[string][]int {
	groups := make(map[string][]int)
	for i, rec := range panel {
		groups[rec.RespondentID] = append(groups[rec.RespondentID], i)
	}
	return groups
}

// varianceComponents produces moment estimates of the residual and
// between-cluster variances from first-stage residuals. The between
// component uses the one-way ANOVA identity E[B] = sigma_e^2 + n~ sigma_u^2
// with n~ = (N - sum n_g^2 / N) / (G - 1), clamped at zero when the data
// show no cluster effect.
func varianceComponents(X *mat.Dense, y *mat.VecDense, beta []float64, groups map[string][]int) (sigmaE2, sigmaU2 float64) {
	n, m := X.Dims()
	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted := 0.0
		for j := 0; j < m; j++ {
			fitted += X.At(i, j) * beta[j]
		}
		resid[i] = y.AtVec(i) - fitted
	}

	within := 0.0
	withinDF := 0
	between := 0.0
	sumSq := 0.0
	for _, rows := range groups {
		ng := float64(len(rows))
		mean := 0.0
		for _, r := range rows {
			mean += resid[r]
		}
		mean /= ng
		for _, r := range rows {
			d := resid[r] - mean
			within += d * d
		}
		withinDF += len(rows) - 1
		between += ng * mean * mean
		sumSq += ng * ng
	}

	G := len(groups)
	if withinDF < 1 || G < 2 {
		return 0, 0
	}
	sigmaE2 = within / float64(withinDF)

	N := float64(n)
	nTilde := (N - sumSq/N) / float64(G-1)
	if nTilde <= 0 {
		return sigmaE2, 0
	}
	sigmaU2 = (between/float64(G-1) - sigmaE2) / nTilde
	if sigmaU2 < 0 || math.IsNaN(sigmaU2) {
		sigmaU2 = 0
	}
	return sigmaE2, sigmaU2
}

// solveWeighted solves the GLS normal equations under compound symmetry.
// With c_g = sigma_u^2 / (sigma_e^2 + n_g sigma_u^2), the inverse covariance
// is (I - c_g J) / sigma_e^2 per cluster, so the sufficient statistics are
// rank-one corrections of the per-cluster cross products:
//
//	A = sum_g X_g'X_g - c_g s_g s_g'     b = sum_g X_g'y_g - c_g t_g s_g
//
// where s_g is the column-sum vector and t_g the response sum of cluster g.
func solveWeighted(X *mat.Dense, y *mat.VecDense, groups map[string][]int, sigmaE2, sigmaU2 float64) ([]float64, error) {
	_, m := X.Dims()
	A := make([]float64, m*m)
	b := make([]float64, m)
	s := make([]float64, m)

	for _, rows := range groups {
		ng := float64(len(rows))
		cg := sigmaU2 / (sigmaE2 + ng*sigmaU2)

		for i := range s {
			s[i] = 0
		}
		tg := 0.0
		for _, r := range rows {
			yr := y.AtVec(r)
			tg += yr
			for j := 0; j < m; j++ {
				xj := X.At(r, j)
				s[j] += xj
				b[j] += xj * yr
				for k := 0; k < m; k++ {
					A[j*m+k] += xj * X.At(r, k)
				}
			}
		}
		for j := 0; j < m; j++ {
			b[j] -= cg * tg * s[j]
			for k := 0; k < m; k++ {
				A[j*m+k] -= cg * s[j] * s[k]
			}
		}
	}

	var beta mat.VecDense
	Amat := mat.NewDense(m, m, A)
	bVec := mat.NewVecDense(m, b)

	var inv mat.Dense
	if invErr := inv.Inverse(Amat); invErr == nil {
		beta.MulVec(&inv, bVec)
	} else {
		var svd mat.SVD
		if ok := svd.Factorize(Amat, mat.SVDFullU|mat.SVDFullV); !ok {
			return nil, fmt.Errorf("weighted normal equations singular: %v", invErr)
		}
		rank := svd.Rank(svdRankTol)
		if rank == 0 {
			return nil, fmt.Errorf("weighted normal equations are numerically zero")
		}
		var sol mat.Dense
		svd.SolveTo(&sol, bVec, rank)
		beta.CloneFromVec(sol.ColView(0))
	}

	out := make([]float64, m)
	for i := range out {
		out[i] = beta.AtVec(i)
	}
	return out, nil
}
