package fit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mtvedt/qalyboot/internal/models"
)

// svdRankTol is the singular-value cutoff for the effective numerical rank.
const svdRankTol = 1e-12

// OLS fits the fixed effects by ordinary least squares. The formula's
// random term, if any, plays no role in the estimate.
type OLS struct {
	schema *Schema
}

func (o *OLS) Name() string { return "ols" }

// Fit solves the normal equations, falling back to a minimum-norm SVD
// solution when X'X is singular. A rank-deficient design converges with a
// diagnostic so the replicate filter can drop it.
func (o *OLS) Fit(panel models.Panel) Result {
	X, y, err := o.schema.Encode(panel)
	if err != nil {
		return Result{Diagnostics: []string{err.Error()}}
	}

	beta, diags := solveLeastSquares(X, y)
	if beta == nil {
		return Result{Diagnostics: diags}
	}

	model := newFittedModel(o.schema, beta)
	if !model.finite() {
		return Result{Diagnostics: append(diags, "least squares produced non-finite coefficients")}
	}
	return Result{Converged: true, Model: model, Diagnostics: diags}
}

// solveLeastSquares computes beta = (X'X)^(-1) X'y, using an SVD
// pseudoinverse when the normal equations are singular. It returns the
// estimate plus any diagnostics, or nil when no estimate exists at all.
func solveLeastSquares(X *mat.Dense, y *mat.VecDense) ([]float64, []string) {
	n, m := X.Dims()

	var diags []string
	if n < m {
		diags = append(diags, fmt.Sprintf("%d observations cannot identify %d parameters", n, m))
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	var beta mat.VecDense
	var xtxInv mat.Dense
	if invErr := xtxInv.Inverse(&xtx); invErr == nil {
		var xty mat.VecDense
		xty.MulVec(X.T(), y)
		beta.MulVec(&xtxInv, &xty)
	} else {
		// X'X is singular or badly conditioned: minimize ||y - X b||
		// with the minimum-norm b instead.
		var svd mat.SVD
		if ok := svd.Factorize(X, mat.SVDFullU|mat.SVDFullV); !ok {
			return nil, append(diags, fmt.Sprintf("design singular and SVD factorization failed: %v", invErr))
		}
		rank := svd.Rank(svdRankTol)
		if rank == 0 {
			return nil, append(diags, "design matrix is numerically zero")
		}
		if rank < m {
			diags = append(diags, fmt.Sprintf("design rank %d below %d columns, a factor level was lost in the draw", rank, m))
		}
		var b mat.Dense
		svd.SolveTo(&b, y, rank)
		beta.CloneFromVec(b.ColView(0))
	}

	out := make([]float64, m)
	for i := range out {
		out[i] = beta.AtVec(i)
	}
	return out, diags
}
