// Package factors computes style factor exposures from price history.
// Exposures feed portfolio attribution and the optimizer's result
// enrichment.
package factors

import (
	"fmt"
	"math"
	"sort"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Factor names used across attribution and reporting.
const (
	FactorMarket     = "market"
	FactorMomentum   = "momentum"
	FactorVolatility = "volatility"
	FactorReversal   = "reversal"
)

// Lookback windows in trading days.
const (
	momentumPeriod   = 126 // ~6 months
	reversalPeriod   = 21  // ~1 month
	volatilityPeriod = 63  // ~3 months
)

const tradingDaysPerYear = 252

// Exposures maps factor name to a symbol's (or portfolio's) loading on
// that factor.
type Exposures map[string]float64

// Calculator derives factor exposures and realized factor returns from
// aligned daily return series.
type Calculator struct {
	log zerolog.Logger
}

func NewCalculator(log zerolog.Logger) *Calculator {
	return &Calculator{
		log: log.With().Str("component", "factors").Logger(),
	}
}

// EqualWeightComposite averages the aligned daily returns of all symbols
// into a single market proxy series.
func EqualWeightComposite(returns map[string][]float64) []float64 {
	if len(returns) == 0 {
		return nil
	}

	var length int
	for _, r := range returns {
		length = len(r)
		break
	}

	composite := make([]float64, length)
	for _, r := range returns {
		for i := 0; i < length && i < len(r); i++ {
			composite[i] += r[i]
		}
	}
	for i := range composite {
		composite[i] /= float64(len(returns))
	}
	return composite
}

// SymbolExposures computes the four style exposures for one symbol.
// closes is the raw close series, dailyReturns and composite are aligned
// daily return series (composite is the equal-weight market proxy).
func (c *Calculator) SymbolExposures(closes, dailyReturns, composite []float64) (Exposures, error) {
	if len(closes) <= momentumPeriod {
		return nil, fmt.Errorf("need more than %d closes for momentum, got %d", momentumPeriod, len(closes))
	}
	if len(dailyReturns) < volatilityPeriod {
		return nil, fmt.Errorf("need at least %d daily returns for volatility, got %d", volatilityPeriod, len(dailyReturns))
	}
	if len(dailyReturns) != len(composite) {
		return nil, fmt.Errorf("return series length %d does not match composite length %d", len(dailyReturns), len(composite))
	}

	// Roc returns percent change over the period; scale back to a fraction.
	momentum := lastValid(talib.Roc(closes, momentumPeriod)) / 100.0
	reversal := -lastValid(talib.Roc(closes, reversalPeriod)) / 100.0

	// Rolling standard deviation of daily returns, annualized.
	volatility := lastValid(talib.StdDev(dailyReturns, volatilityPeriod, 1.0)) * math.Sqrt(tradingDaysPerYear)

	// Market beta from a regression of the symbol's returns on the
	// equal-weight composite.
	_, beta := stat.LinearRegression(composite, dailyReturns, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		beta = 0
	}

	return Exposures{
		FactorMarket:     beta,
		FactorMomentum:   momentum,
		FactorVolatility: volatility,
		FactorReversal:   reversal,
	}, nil
}

// PortfolioExposures aggregates per-symbol exposures into portfolio-level
// loadings using the portfolio weights. Symbols without computed exposures
// contribute nothing.
func (c *Calculator) PortfolioExposures(weights map[string]float64, perSymbol map[string]Exposures) Exposures {
	portfolio := Exposures{}
	for symbol, w := range weights {
		exp, ok := perSymbol[symbol]
		if !ok {
			continue
		}
		for factor, value := range exp {
			portfolio[factor] += w * value
		}
	}
	return portfolio
}

// FactorReturns estimates realized factor returns over the sample from
// long-short spread portfolios: for each style factor, the mean return of
// the top-half exposure symbols minus the bottom half, cumulated over the
// window. The market factor return is the cumulated composite return.
func (c *Calculator) FactorReturns(returns map[string][]float64, perSymbol map[string]Exposures) map[string]float64 {
	composite := EqualWeightComposite(returns)

	out := map[string]float64{
		FactorMarket: cumulate(composite),
	}

	for _, factor := range []string{FactorMomentum, FactorVolatility, FactorReversal} {
		out[factor] = c.spreadReturn(factor, returns, perSymbol)
	}
	return out
}

// spreadReturn builds the top-minus-bottom spread for one factor. With
// fewer than 2 symbols there is no spread and the factor return is 0.
func (c *Calculator) spreadReturn(factor string, returns map[string][]float64, perSymbol map[string]Exposures) float64 {
	type loading struct {
		symbol string
		value  float64
	}

	loadings := make([]loading, 0, len(perSymbol))
	for symbol, exp := range perSymbol {
		if _, ok := returns[symbol]; !ok {
			continue
		}
		loadings = append(loadings, loading{symbol: symbol, value: exp[factor]})
	}
	if len(loadings) < 2 {
		return 0
	}

	sort.Slice(loadings, func(i, j int) bool {
		if loadings[i].value != loadings[j].value {
			return loadings[i].value > loadings[j].value
		}
		return loadings[i].symbol < loadings[j].symbol
	})

	half := len(loadings) / 2
	topSymbols := make([]string, 0, half)
	for _, l := range loadings[:half] {
		topSymbols = append(topSymbols, l.symbol)
	}
	bottomSymbols := make([]string, 0, half)
	for _, l := range loadings[len(loadings)-half:] {
		bottomSymbols = append(bottomSymbols, l.symbol)
	}
	spread := meanCumulative(topSymbols, returns) - meanCumulative(bottomSymbols, returns)

	c.log.Debug().
		Str("factor", factor).
		Float64("spread", spread).
		Int("symbols", len(loadings)).
		Msg("Computed factor spread return")

	return spread
}

func meanCumulative(symbols []string, returns map[string][]float64) float64 {
	if len(symbols) == 0 {
		return 0
	}
	var sum float64
	for _, s := range symbols {
		sum += cumulate(returns[s])
	}
	return sum / float64(len(symbols))
}

// cumulate compounds a daily return series into a total return.
func cumulate(returns []float64) float64 {
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	return growth - 1
}

// lastValid returns the last non-NaN element of a talib output series,
// or 0 when every element is NaN.
func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}
	return 0
}
