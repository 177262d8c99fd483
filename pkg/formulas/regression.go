package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// OLSResult holds the output of a multiple linear regression.
type OLSResult struct {
	Intercept    float64
	Coefficients []float64 // one per regressor, in input order
	RSquared     float64
	Observations int
}

// OLS regresses y on the given regressors (each the same length as y) using
// ordinary least squares with an intercept term. QR decomposition is used for
// numerical stability on short, collinear-ish windows.
func OLS(y []float64, regressors [][]float64) (OLSResult, error) {
	n := len(y)
	k := len(regressors)
	if n == 0 {
		return OLSResult{}, fmt.Errorf("no observations")
	}
	if k == 0 {
		return OLSResult{}, fmt.Errorf("no regressors")
	}
	for i, reg := range regressors {
		if len(reg) != n {
			return OLSResult{}, fmt.Errorf("regressor %d has %d observations, want %d", i, len(reg), n)
		}
	}
	// Need more observations than parameters for the system to be determined.
	if n <= k {
		return OLSResult{}, fmt.Errorf("insufficient observations: %d for %d regressors", n, k)
	}

	// Design matrix with leading intercept column.
	x := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		for j := 0; j < k; j++ {
			x.Set(i, j+1, regressors[j][i])
		}
	}
	yVec := mat.NewVecDense(n, y)

	var qr mat.QR
	qr.Factorize(x)

	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, yVec); err != nil {
		return OLSResult{}, fmt.Errorf("failed to solve least squares: %w", err)
	}

	result := OLSResult{
		Intercept:    coef.AtVec(0),
		Coefficients: make([]float64, k),
		Observations: n,
	}
	for j := 0; j < k; j++ {
		result.Coefficients[j] = coef.AtVec(j + 1)
	}

	// R-squared from fitted values.
	var fitted mat.VecDense
	fitted.MulVec(x, &coef)

	meanY := Mean(y)
	var ssTot, ssRes float64
	for i := 0; i < n; i++ {
		ssTot += (y[i] - meanY) * (y[i] - meanY)
		res := y[i] - fitted.AtVec(i)
		ssRes += res * res
	}
	if ssTot > 0 {
		result.RSquared = 1 - ssRes/ssTot
		if math.IsNaN(result.RSquared) {
			result.RSquared = 0
		}
	}

	return result, nil
}
