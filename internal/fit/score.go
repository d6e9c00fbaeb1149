package fit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ScoreFunc evaluates one candidate model against one unit time series. It
// returns a goodness-of-fit score (higher is better, R² for the default
// scorer) and one parameter estimate per stimulus condition. Scorers must be
// pure and safe to invoke concurrently across workers, and must return a
// fresh estimate slice on every call.
type ScoreFunc func(candidate []float32, nCond, nTime int, series []float32) (float64, []float32, error)

// LeastSquares is the default scorer: a linear model with one regressor per
// stimulus condition plus an intercept, solved by least squares. The score
// is R² of the fitted model; the parameter estimates are the condition
// coefficients. A degenerate design (e.g. an all-flat candidate) scores 0.
func LeastSquares(candidate []float32, nCond, nTime int, series []float32) (float64, []float32, error) {
	if len(candidate) != nCond*nTime || len(series) != nTime {
		return 0, nil, fmt.Errorf("scoring: candidate %d / series %d for %d conditions over %d time points",
			len(candidate), len(series), nCond, nTime)
	}

	design := mat.NewDense(nTime, nCond+1, nil)
	for t := 0; t < nTime; t++ {
		for c := 0; c < nCond; c++ {
			design.Set(t, c, float64(candidate[c*nTime+t]))
		}
		design.Set(t, nCond, 1)
	}
	y := mat.NewVecDense(nTime, nil)
	var mean float64
	for t := 0; t < nTime; t++ {
		v := float64(series[t])
		y.SetVec(t, v)
		mean += v
	}
	mean /= float64(nTime)

	var coef mat.VecDense
	if err := coef.SolveVec(design, y); err != nil {
		// Rank-deficient design: this candidate cannot explain anything.
		return 0, make([]float32, nCond), nil
	}

	var ssRes, ssTot float64
	for t := 0; t < nTime; t++ {
		var pred float64
		for c := 0; c <= nCond; c++ {
			pred += design.At(t, c) * coef.AtVec(c)
		}
		r := y.AtVec(t) - pred
		ssRes += r * r
		d := y.AtVec(t) - mean
		ssTot += d * d
	}

	pe := make([]float32, nCond)
	for c := 0; c < nCond; c++ {
		pe[c] = float32(coef.AtVec(c))
	}
	if ssTot == 0 {
		return 0, pe, nil
	}
	r2 := 1 - ssRes/ssTot
	if r2 < 0 {
		r2 = 0
	}
	return r2, pe, nil
}
