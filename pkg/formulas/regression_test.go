package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOLSRecoverKnownCoefficients(t *testing.T) {
	// y = 2 + 3*x1 - 0.5*x2, exact fit
	x1 := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	x2 := []float64{2, 1, 4, 3, 6, 5, 8, 7}
	y := make([]float64, len(x1))
	for i := range x1 {
		y[i] = 2 + 3*x1[i] - 0.5*x2[i]
	}

	result, err := OLS(y, [][]float64{x1, x2})
	require.NoError(t, err)

	assert.InDelta(t, 2.0, result.Intercept, 1e-9)
	assert.InDelta(t, 3.0, result.Coefficients[0], 1e-9)
	assert.InDelta(t, -0.5, result.Coefficients[1], 1e-9)
	assert.InDelta(t, 1.0, result.RSquared, 1e-9)
	assert.Equal(t, 8, result.Observations)
}

func TestOLSInsufficientObservations(t *testing.T) {
	_, err := OLS([]float64{1, 2}, [][]float64{{1, 2}, {3, 4}})
	assert.Error(t, err)
}

func TestOLSEmptyInput(t *testing.T) {
	_, err := OLS(nil, [][]float64{{1}})
	assert.Error(t, err)

	_, err = OLS([]float64{1, 2, 3}, nil)
	assert.Error(t, err)
}

func TestOLSMismatchedRegressorLength(t *testing.T) {
	_, err := OLS([]float64{1, 2, 3}, [][]float64{{1, 2}})
	assert.Error(t, err)
}

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)
}

func TestCalculateReturnsShortSeries(t *testing.T) {
	assert.Empty(t, CalculateReturns([]float64{100}))
	assert.Empty(t, CalculateReturns(nil))
}

func TestCorrelationPerfectlyCorrelated(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}
	assert.InDelta(t, 1.0, Correlation(x, y), 1e-9)
}

func TestCorrelationMismatchedInput(t *testing.T) {
	assert.Equal(t, 0.0, Correlation([]float64{1, 2}, []float64{1}))
	assert.Equal(t, 0.0, Correlation(nil, nil))
}

func TestCorrelationConstantSeriesIsZeroNotNaN(t *testing.T) {
	x := []float64{1, 1, 1, 1}
	y := []float64{2, 4, 6, 8}
	assert.Equal(t, 0.0, Correlation(x, y))
}
