package optimization

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ParametricCVaR computes the analytic CVaR of a normal return
// distribution at the given confidence level:
//
//	CVaR_alpha = mu - sigma * phi(z_alpha) / (1 - alpha)
//
// where phi is the standard normal density and z_alpha its quantile at
// (1 - alpha). Used as a sanity cross-check against the bootstrap CVaR —
// large disagreement signals fat tails the normal approximation misses.
func ParametricCVaR(mu, sigma, confidence float64) float64 {
	if sigma <= 0 {
		return mu
	}

	alpha := 1.0 - confidence
	if alpha <= 0 || alpha >= 1 {
		return mu
	}

	z := distuv.UnitNormal.Quantile(alpha)
	return mu - sigma*distuv.UnitNormal.Prob(z)/alpha
}

// AnnualizedVolatility scales a daily volatility to annual terms.
func AnnualizedVolatility(dailyVol float64) float64 {
	return dailyVol * math.Sqrt(TradingDaysPerYear)
}

// exceedsCVaRLimit reports whether the simulated tail loss is worse than
// the configured cap. maxCVaR is expressed as a positive loss fraction
// (e.g. 0.25 caps the expected tail loss at -25%).
func exceedsCVaRLimit(cvar95, maxCVaR float64) bool {
	if maxCVaR <= 0 {
		return false
	}
	return cvar95 < -maxCVaR
}
