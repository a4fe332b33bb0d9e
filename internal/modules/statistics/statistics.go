// Package statistics computes return series and covariance estimates from
// price history. All functions are pure: they take a returns matrix and
// produce fresh values, never mutating their inputs.
package statistics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/frontieralpha/quant/internal/modules/marketdata"
)

// InsufficientDataError indicates a symbol has too few price observations
// to compute returns.
type InsufficientDataError struct {
	Symbol   string
	Observed int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %d observations, need at least %d",
		e.Symbol, e.Observed, e.Required)
}

// ReturnsMatrix computes simple daily returns from consecutive closes for
// each requested symbol: r_t = (close_t - close_{t-1}) / close_{t-1}.
// The first observation is dropped, so each series has length len(prices)-1.
// Series are NOT length-aligned across symbols; call Align before Covariance.
func ReturnsMatrix(prices map[string]marketdata.PriceSeries, symbols []string) (map[string][]float64, error) {
	returns := make(map[string][]float64, len(symbols))

	for _, symbol := range symbols {
		series := prices[symbol]
		if len(series) < 2 {
			return nil, &InsufficientDataError{Symbol: symbol, Observed: len(series), Required: 2}
		}

		closes := series.Closes()
		daily := make([]float64, len(closes)-1)
		for i := 1; i < len(closes); i++ {
			if closes[i-1] > 0 {
				daily[i-1] = (closes[i] - closes[i-1]) / closes[i-1]
			}
		}
		returns[symbol] = daily
	}

	return returns, nil
}

// Align truncates all return series to the length of the shortest one,
// keeping the most recent observations. Alignment is by trading-day index
// counted back from the latest observation; missing days per symbol are
// dropped, not interpolated.
func Align(returns map[string][]float64) map[string][]float64 {
	minLen := -1
	for _, r := range returns {
		if minLen < 0 || len(r) < minLen {
			minLen = len(r)
		}
	}
	if minLen <= 0 {
		minLen = 0
	}

	aligned := make(map[string][]float64, len(returns))
	for symbol, r := range returns {
		aligned[symbol] = r[len(r)-minLen:]
	}
	return aligned
}

// MeanReturns computes the arithmetic mean return per symbol over the full
// sample.
func MeanReturns(returns map[string][]float64) map[string]float64 {
	means := make(map[string]float64, len(returns))
	for symbol, r := range returns {
		if len(r) == 0 {
			means[symbol] = 0
			continue
		}
		means[symbol] = stat.Mean(r, nil)
	}
	return means
}

// Covariance computes the sample covariance matrix (N-1 denominator) over
// the symbols in the given order. All return series must have equal length;
// callers pre-align with Align.
func Covariance(returns map[string][]float64, symbols []string) ([][]float64, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols provided")
	}

	var returnLength int
	for _, symbol := range symbols {
		r, ok := returns[symbol]
		if !ok {
			return nil, fmt.Errorf("missing returns for symbol %s", symbol)
		}
		if returnLength == 0 {
			returnLength = len(r)
		}
		if len(r) != returnLength {
			return nil, fmt.Errorf("inconsistent return lengths: expected %d, got %d for symbol %s",
				returnLength, len(r), symbol)
		}
	}

	if returnLength < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", returnLength)
	}

	n := len(symbols)
	covMatrix := make([][]float64, n)
	for i := range covMatrix {
		covMatrix[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov := stat.Covariance(returns[symbols[i]], returns[symbols[j]], nil)
			covMatrix[i][j] = cov
			if i != j {
				covMatrix[j][i] = cov // Symmetry
			}
		}
	}

	return covMatrix, nil
}

// DefaultShrinkageDelta is the fixed shrinkage intensity applied to sample
// covariance matrices.
const DefaultShrinkageDelta = 0.2

// ShrinkCovariance applies Ledoit-Wolf-style shrinkage toward a scaled
// identity target:
//
//	shrunk[i][i] = (1-delta)*sigma[i][i] + delta*mu
//	shrunk[i][j] = (1-delta)*sigma[i][j]      (i != j)
//
// where mu is the grand mean of all matrix entries. The intensity delta is
// fixed, not estimated from the data, so this is an approximation of the
// Ledoit-Wolf estimator rather than the textbook optimal-intensity version.
// A fresh matrix is returned; the input is never modified.
func ShrinkCovariance(sigma [][]float64, delta float64) [][]float64 {
	n := len(sigma)
	if n == 0 {
		return [][]float64{}
	}

	var grand float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			grand += sigma[i][j]
		}
	}
	mu := grand / float64(n*n)

	shrunk := make([][]float64, n)
	for i := 0; i < n; i++ {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				shrunk[i][j] = (1-delta)*sigma[i][j] + delta*mu
			} else {
				shrunk[i][j] = (1 - delta) * sigma[i][j]
			}
		}
	}

	return shrunk
}

// Correlation extracts pairwise correlations from a covariance matrix.
// Entries with non-positive variances yield correlation 0.
func Correlation(sigma [][]float64) [][]float64 {
	n := len(sigma)
	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			vi, vj := sigma[i][i], sigma[j][j]
			if vi > 0 && vj > 0 {
				corr[i][j] = sigma[i][j] / (math.Sqrt(vi) * math.Sqrt(vj))
			}
		}
	}
	return corr
}
